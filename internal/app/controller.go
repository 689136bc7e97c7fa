// Package app holds the application state of one signed-in user and the
// operations the presentation shells dispatch to it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"omnichat/internal/attachment"
	"omnichat/internal/catalog"
	"omnichat/internal/chat"
	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
	"omnichat/internal/session"
)

var (
	ErrEmptyInput      = errors.New("input is empty")
	ErrNoActiveSession = errors.New("no active session")
	ErrReplyPending    = errors.New("a reply is still pending")
	ErrProcessingFile  = errors.New("a file is already being processed")
)

// Options tunes a Controller. OnChange, when set, runs after every change to
// the session collection.
type Options struct {
	Models   []models.ModelOption
	OnChange func()
}

type Controller struct {
	svc      platform.Services
	store    *session.Store
	catalog  *catalog.Catalog
	engine   *chat.Engine
	pipeline *attachment.Pipeline
	onChange func()

	mu          sync.Mutex
	webSearch   bool
	typing      bool
	processing  bool
	sidebarOpen bool
	input       string
	streaming   string
	user        *models.User
}

func New(ctx context.Context, svc platform.Services, opts Options) (*Controller, error) {
	if svc.KV == nil || svc.Files == nil || svc.Inference == nil || svc.Identity == nil {
		return nil, errors.New("incomplete platform services")
	}
	pipeline, err := attachment.NewPipeline(ctx, svc.Files, svc.Inference)
	if err != nil {
		return nil, err
	}
	return &Controller{
		svc:         svc,
		store:       session.NewStore(svc.KV),
		catalog:     catalog.NewWith(opts.Models),
		engine:      chat.NewEngine(svc.Inference),
		pipeline:    pipeline,
		onChange:    opts.OnChange,
		sidebarOpen: true,
	}, nil
}

// Init refreshes the model list, resolves the signed-in user and loads the
// stored sessions. Nothing here fails the controller; problems are logged.
func (c *Controller) Init(ctx context.Context) {
	log := observability.LoggerFromContext(ctx)
	c.catalog.Refresh(ctx, c.svc.Inference)

	if c.svc.Identity.IsSignedIn() {
		user, err := c.svc.Identity.User(ctx)
		if err != nil {
			log.Error("initialization: get user failed", "error", err)
		} else {
			c.mu.Lock()
			c.user = user
			c.mu.Unlock()
		}
	}

	if err := c.store.Load(ctx); err != nil {
		log.Warn("initialization: sessions reset", "error", err)
	}
}

func (c *Controller) SignIn(ctx context.Context) error {
	if err := c.svc.Identity.SignIn(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	user, err := c.svc.Identity.User(ctx)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	return nil
}

func (c *Controller) SignOut(ctx context.Context) error {
	if err := c.svc.Identity.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	return nil
}

func (c *Controller) NewChat(ctx context.Context) *models.ChatSession {
	s := c.store.CreateSession(ctx)
	c.changed()
	return s
}

func (c *Controller) SelectChat(id string) error {
	return c.store.Select(id)
}

func (c *Controller) DeleteChat(ctx context.Context, id string) {
	c.store.DeleteSession(ctx, id)
	c.changed()
}

// CycleChat moves the active session by delta positions, wrapping around.
func (c *Controller) CycleChat(delta int) {
	sessions := c.store.Sessions()
	if len(sessions) == 0 {
		return
	}
	activeID := c.store.ActiveID()
	idx := 0
	for i, s := range sessions {
		if s.ID == activeID {
			idx = i
			break
		}
	}
	next := ((idx+delta)%len(sessions) + len(sessions)) % len(sessions)
	_ = c.store.Select(sessions[next].ID)
}

func (c *Controller) SelectModel(id string) error {
	return c.catalog.Select(id)
}

// CycleModel selects the next model and returns it.
func (c *Controller) CycleModel() string {
	return c.catalog.Next()
}

func (c *Controller) ToggleWebSearch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webSearch = !c.webSearch
	return c.webSearch
}

func (c *Controller) ToggleSidebar() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sidebarOpen = !c.sidebarOpen
	return c.sidebarOpen
}

func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

// Send commits text as a user message to the active session, streams the
// reply and commits it. onFragment observes the accumulated reply. Only one
// send may be pending at a time.
func (c *Controller) Send(ctx context.Context, text string, onFragment func(string)) (chat.Result, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Result{}, ErrEmptyInput
	}

	c.mu.Lock()
	if c.typing {
		c.mu.Unlock()
		return chat.Result{}, ErrReplyPending
	}
	active := c.store.Active()
	if active == nil {
		c.mu.Unlock()
		return chat.Result{}, ErrNoActiveSession
	}
	c.typing = true
	c.input = ""
	c.streaming = ""
	model := c.catalog.Selected()
	webSearch := c.webSearch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.typing = false
		c.streaming = ""
		c.mu.Unlock()
	}()

	history := active.Messages
	user := c.engine.UserMessage(text)
	c.store.UpdateMessages(ctx, active.ID, append(models.CloneMessages(history), user))
	c.changed()

	result := c.engine.ExchangeWith(ctx, user, chat.Request{
		History:   history,
		Input:     text,
		Model:     model,
		WebSearch: webSearch,
		OnFragment: func(acc string) {
			c.mu.Lock()
			c.streaming = acc
			c.mu.Unlock()
			if onFragment != nil {
				onFragment(acc)
			}
		},
	})

	c.store.UpdateMessages(ctx, active.ID, result.Messages(history))
	c.changed()
	return result, nil
}

// Attach processes one file and seeds the input with the resulting prompt.
// Errors wrap attachment.ErrProcessFile; show attachment.AlertMessage.
func (c *Controller) Attach(ctx context.Context, f attachment.File) (string, error) {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return "", ErrProcessingFile
	}
	if c.store.Active() == nil {
		c.mu.Unlock()
		return "", ErrNoActiveSession
	}
	c.processing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	prompt, err := c.pipeline.Process(ctx, f)
	if err != nil {
		return "", err
	}
	c.SetInput(prompt)
	return prompt, nil
}

// Pending reports whether a reply is being awaited.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Busy reports whether a send or an attachment is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing || c.processing
}

func (c *Controller) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
