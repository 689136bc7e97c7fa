package worker

import (
	"sync"
	"time"

	"omnichat/internal/app"
	"omnichat/internal/models"
)

// userState caches the controller of one user. mu serializes controller
// construction; fields are guarded by it.
type userState struct {
	mu       sync.Mutex
	user     models.User
	ctrl     *app.Controller
	lastUsed time.Time
	stale    bool
}

func newUserState(user models.User) *userState {
	return &userState{user: user, lastUsed: time.Now()}
}

// markStale drops the controller now, or on next use when it is busy.
func (s *userState) markStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	if s.ctrl.Busy() {
		s.stale = true
		return
	}
	s.ctrl = nil
	s.stale = false
}

func (s *userState) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl != nil && s.ctrl.Busy() {
		return 0
	}
	return now.Sub(s.lastUsed)
}
