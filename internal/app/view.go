package app

import (
	"omnichat/internal/catalog"
	"omnichat/internal/models"
)

// View is an immutable snapshot of the application state for rendering.
type View struct {
	User            *models.User         `json:"user,omitempty"`
	Sessions        []models.ChatSession `json:"sessions"`
	ActiveSessionID string               `json:"active_session_id,omitempty"`
	ActiveSession   *models.ChatSession  `json:"active_session,omitempty"`
	Models          []catalog.Group      `json:"models"`
	SelectedModel   string               `json:"selected_model"`
	WebSearch       bool                 `json:"web_search"`
	Typing          bool                 `json:"typing"`
	Processing      bool                 `json:"processing"`
	SidebarOpen     bool                 `json:"sidebar_open"`
	Input           string               `json:"input"`
	Streaming       string               `json:"streaming,omitempty"`
}

func (c *Controller) Snapshot() View {
	sessions, activeID, active := c.store.Snapshot()
	v := View{
		Sessions:        sessions,
		ActiveSessionID: activeID,
		ActiveSession:   active,
		Models:          c.catalog.Grouped(),
		SelectedModel:   c.catalog.Selected(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		u := *c.user
		v.User = &u
	}
	v.WebSearch = c.webSearch
	v.Typing = c.typing
	v.Processing = c.processing
	v.SidebarOpen = c.sidebarOpen
	v.Input = c.input
	v.Streaming = c.streaming
	return v
}

// ModelName returns the display name of the selected model.
func (v View) ModelName() string {
	for _, g := range v.Models {
		for _, m := range g.Models {
			if m.ID == v.SelectedModel {
				return m.Name
			}
		}
	}
	return v.SelectedModel
}
