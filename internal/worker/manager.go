package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnichat/internal/app"
	"omnichat/internal/attachment"
	"omnichat/internal/chat"
	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
	"omnichat/internal/redis"
)

// ServicesFactory binds the platform capabilities to one user.
type ServicesFactory func(ctx context.Context, user models.User) (platform.Services, error)

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Manager keeps one controller per user and runs their sends and
// attachments on the shared worker pool.
type Manager struct {
	factory    ServicesFactory
	dispatcher *Dispatcher
	cache      *stateRedis
	instanceID string
	models     []models.ModelOption

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state map[string]*userState
}

type Option func(*Manager)

// WithRedis shares controller invalidation with other instances.
func WithRedis(client *redis.Client) Option {
	return func(m *Manager) {
		m.cache = newStateCache(client)
	}
}

// WithModels seeds every controller's catalog.
func WithModels(options []models.ModelOption) Option {
	return func(m *Manager) {
		m.models = append([]models.ModelOption(nil), options...)
	}
}

func NewManager(factory ServicesFactory, cfg DispatcherConfig, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		factory:    factory,
		dispatcher: NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.IdleTimeout),
		instanceID: uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
		state:      make(map[string]*userState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache.startListener(ctx, m.handleInvalidation)
	return m
}

// Controller returns the user's controller, building and initializing it on
// first use.
func (m *Manager) Controller(ctx context.Context, user models.User) (*app.Controller, error) {
	if user.UID == "" {
		return nil, errors.New("user id required")
	}
	state := m.getState(user)

	state.mu.Lock()
	defer state.mu.Unlock()
	state.lastUsed = time.Now()
	if state.ctrl != nil && state.stale && !state.ctrl.Busy() {
		state.ctrl = nil
		state.stale = false
	}
	if state.ctrl != nil {
		return state.ctrl, nil
	}

	svc, err := m.factory(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("bind services: %w", err)
	}
	uid := user.UID
	ctrl, err := app.New(ctx, svc, app.Options{
		Models:   m.models,
		OnChange: func() { m.publish(uid) },
	})
	if err != nil {
		return nil, err
	}
	ctrl.Init(ctx)
	state.ctrl = ctrl
	debugLog("controller created", "user", uid)
	return ctrl, nil
}

// View returns the user's current snapshot.
func (m *Manager) View(ctx context.Context, user models.User) (app.View, error) {
	ctrl, err := m.Controller(ctx, user)
	if err != nil {
		return app.View{}, err
	}
	return ctrl.Snapshot(), nil
}

// Send runs one exchange on the pool. A reply already pending is rejected
// before anything is queued.
func (m *Manager) Send(ctx context.Context, user models.User, text string, onFragment func(string)) (chat.Result, error) {
	ctrl, err := m.Controller(ctx, user)
	if err != nil {
		return chat.Result{}, err
	}
	if ctrl.Pending() {
		return chat.Result{}, app.ErrReplyPending
	}
	value, err := m.submit(ctx, Send, user.UID, func(jobCtx context.Context) (any, error) {
		res, err := ctrl.Send(jobCtx, text, onFragment)
		return res, err
	})
	if err != nil {
		return chat.Result{}, err
	}
	res, _ := value.(chat.Result)
	return res, nil
}

// Attach processes one file on the pool.
func (m *Manager) Attach(ctx context.Context, user models.User, f attachment.File) (string, error) {
	ctrl, err := m.Controller(ctx, user)
	if err != nil {
		return "", err
	}
	value, err := m.submit(ctx, Attach, user.UID, func(jobCtx context.Context) (any, error) {
		prompt, err := ctrl.Attach(jobCtx, f)
		return prompt, err
	})
	if err != nil {
		return "", err
	}
	prompt, _ := value.(string)
	return prompt, nil
}

// submit queues run and waits for it. The job outlives ctx: a client that
// goes away does not abort an exchange already underway.
func (m *Manager) submit(ctx context.Context, typ JobType, uid string, run func(context.Context) (any, error)) (any, error) {
	job := newJob(context.WithoutCancel(ctx), typ, uid, run)
	if err := m.dispatcher.Submit(job); err != nil {
		return nil, err
	}
	select {
	case res := <-job.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetUser drops the user's controller and queued jobs.
func (m *Manager) ResetUser(uid string) {
	m.mu.Lock()
	delete(m.state, uid)
	m.mu.Unlock()
	m.dispatcher.CancelUser(uid)
}

// EvictIdle drops controllers unused for maxIdle and returns how many.
// Idle checks run without m.mu so a user whose controller is still
// initializing cannot stall lookups of other users.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	now := time.Now()
	m.mu.Lock()
	states := make(map[string]*userState, len(m.state))
	for uid, state := range m.state {
		states[uid] = state
	}
	m.mu.Unlock()

	var idle []string
	for uid, state := range states {
		if state.idleSince(now) >= maxIdle {
			idle = append(idle, uid)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, uid := range idle {
		if m.state[uid] == states[uid] {
			delete(m.state, uid)
			n++
		}
	}
	return n
}

// StartEviction runs EvictIdle every period until ctx ends.
func (m *Manager) StartEviction(ctx context.Context, maxIdle, period time.Duration) {
	if maxIdle <= 0 || period <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.EvictIdle(maxIdle); n > 0 {
					debugLog("evicted idle controllers", "count", n)
				}
			}
		}
	}()
}

func (m *Manager) Close() {
	m.cancel()
	m.dispatcher.Close()
}

func (m *Manager) getState(user models.User) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.state[user.UID]; ok {
		return state
	}
	state := newUserState(user)
	m.state[user.UID] = state
	return state
}

func (m *Manager) lookup(uid string) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[uid]
}

func (m *Manager) publish(uid string) {
	if m.cache == nil {
		return
	}
	m.cache.publishInvalidation(m.ctx, invalidateMessage{UserID: uid, Scope: scopeSessions, Origin: m.instanceID})
}

func (m *Manager) handleInvalidation(msg invalidateMessage) {
	if msg.Origin == m.instanceID || msg.Scope != scopeSessions {
		return
	}
	if state := m.lookup(msg.UserID); state != nil {
		observability.Logger().Debug("controller invalidated by peer", "user", msg.UserID)
		state.markStale()
	}
}
