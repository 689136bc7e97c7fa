// Package session owns the ordered collection of chat sessions and mirrors
// it, whole, into the user's key-value store after every change.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
)

const (
	StorageKey   = "omnichat_sessions"
	DefaultTitle = "New Conversation"
	TitleLength  = 30
	Ellipsis     = "..."
)

var (
	ErrSessionNotFound = errors.New("session not found")
	// ErrCorruptSessions reports that the stored collection could not be
	// parsed. The store has already backed it up and started fresh.
	ErrCorruptSessions = errors.New("stored sessions are corrupt")
)

// Store is safe for concurrent use. Readers receive copies.
type Store struct {
	kv    platform.KeyValueStore
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	sessions []*models.ChatSession
	activeID string
	rev      uint64

	persistMu    sync.Mutex
	persistedRev uint64
}

func NewStore(kv platform.KeyValueStore) *Store {
	return &Store{
		kv:    kv,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Load replaces the collection with the persisted one. An absent key, a read
// failure or an unparseable value all leave the store with one fresh active
// session; only the last is reported, wrapped in ErrCorruptSessions.
func (s *Store) Load(ctx context.Context) error {
	log := observability.LoggerFromContext(ctx)
	raw, found, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		log.Error("load sessions failed", "error", err)
		s.CreateSession(ctx)
		return nil
	}
	if !found || raw == "" {
		s.CreateSession(ctx)
		return nil
	}

	var stored []models.ChatSession
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		backupKey := fmt.Sprintf("%s.corrupt.%d", StorageKey, s.now().UnixMilli())
		if setErr := s.kv.Set(ctx, backupKey, raw); setErr != nil {
			log.Error("backup corrupt sessions failed", "key", backupKey, "error", setErr)
		}
		log.Warn("stored sessions are corrupt, starting fresh", "backup_key", backupKey, "error", err)
		s.CreateSession(ctx)
		return fmt.Errorf("%w (backup %s): %v", ErrCorruptSessions, backupKey, err)
	}

	s.mu.Lock()
	s.sessions = make([]*models.ChatSession, 0, len(stored))
	for i := range stored {
		if stored[i].Messages == nil {
			stored[i].Messages = []models.Message{}
		}
		s.sessions = append(s.sessions, &stored[i])
	}
	s.activeID = ""
	if len(s.sessions) > 0 {
		s.activeID = s.sessions[0].ID
	}
	s.rev++
	empty := len(s.sessions) == 0
	s.mu.Unlock()

	if empty {
		s.CreateSession(ctx)
	}
	return nil
}

// CreateSession prepends a new empty session and makes it active.
func (s *Store) CreateSession(ctx context.Context) *models.ChatSession {
	now := models.Millis(s.now())
	sess := &models.ChatSession{
		ID:           s.newID(),
		Title:        DefaultTitle,
		Messages:     []models.Message{},
		CreatedAt:    now,
		LastModified: now,
	}
	s.mu.Lock()
	s.sessions = append([]*models.ChatSession{sess}, s.sessions...)
	s.activeID = sess.ID
	out := sess.Clone()
	snap, rev := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap, rev)
	return out
}

// DeleteSession removes id. Deleting the active session activates the new
// first element, if any. Unknown ids are ignored.
func (s *Store) DeleteSession(ctx context.Context, id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if s.activeID == id {
		s.activeID = ""
		if len(s.sessions) > 0 {
			s.activeID = s.sessions[0].ID
		}
	}
	snap, rev := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap, rev)
}

// UpdateMessages replaces the message log of id wholesale.
func (s *Store) UpdateMessages(ctx context.Context, id string, msgs []models.Message) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	sess := s.sessions[idx]
	if sess.Title == DefaultTitle && len(msgs) > 0 {
		sess.Title = Title(msgs[0].Content)
	}
	sess.Messages = models.CloneMessages(msgs)
	sess.LastModified = models.Millis(s.now())
	snap, rev := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap, rev)
}

// Select makes id the active session.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.activeID = id
	return nil
}

// Active returns a copy of the active session, or nil.
func (s *Store) Active() *models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(s.activeID); idx >= 0 {
		return s.sessions[idx].Clone()
	}
	return nil
}

func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(s.activeID) < 0 {
		return ""
	}
	return s.activeID
}

// Get returns a copy of the session with id.
func (s *Store) Get(id string) (*models.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.sessions[idx].Clone(), true
	}
	return nil, false
}

// Sessions returns a copy of the collection, newest first.
func (s *Store) Sessions() []models.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = *sess.Clone()
	}
	return out
}

// Snapshot returns the collection, the active id and a copy of the active
// session taken under one lock, so the three always agree.
func (s *Store) Snapshot() (sessions []models.ChatSession, activeID string, active *models.ChatSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions = make([]models.ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		sessions[i] = *sess.Clone()
		if sess.ID == s.activeID {
			activeID = sess.ID
			active = sess.Clone()
		}
	}
	return sessions, activeID, active
}

// Title derives a session title from the first message content.
func Title(content string) string {
	r := []rune(content)
	if len(r) > TitleLength {
		r = r[:TitleLength]
	}
	return string(r) + Ellipsis
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i
		}
	}
	return -1
}

// snapshotLocked encodes the collection and bumps the revision. A nil
// snapshot means the collection is empty and nothing should be written.
func (s *Store) snapshotLocked() ([]byte, uint64) {
	s.rev++
	if len(s.sessions) == 0 {
		return nil, s.rev
	}
	data, err := json.Marshal(s.sessions)
	if err != nil {
		observability.Logger().Error("encode sessions failed", "error", err)
		return nil, s.rev
	}
	return data, s.rev
}

func (s *Store) persist(ctx context.Context, snap []byte, rev uint64) {
	if snap == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if rev <= s.persistedRev {
		return
	}
	if err := s.kv.Set(ctx, StorageKey, string(snap)); err != nil {
		observability.LoggerFromContext(ctx).Error("persist sessions failed", "revision", rev, "error", err)
		return
	}
	s.persistedRev = rev
}
