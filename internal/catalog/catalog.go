// Package catalog holds the selectable model list and the current selection.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"omnichat/internal/models"
	"omnichat/internal/observability"
)

var ErrUnknownModel = errors.New("unknown model")

// Lister is the part of the inference capability the catalog refreshes from.
type Lister interface {
	ListModels(ctx context.Context) ([]models.ModelOption, error)
}

type Catalog struct {
	mu       sync.RWMutex
	options  []models.ModelOption
	selected string
}

// New starts from the bundled list with its first entry selected.
func New() *Catalog {
	return NewWith(Default())
}

// NewWith starts from options; an empty list falls back to the bundled one.
func NewWith(options []models.ModelOption) *Catalog {
	if len(options) == 0 {
		options = Default()
	}
	c := &Catalog{options: append([]models.ModelOption(nil), options...)}
	c.selected = c.options[0].ID
	return c
}

// Refresh replaces the list with the lister's result when it is non-empty.
// Failures keep the current list and are only logged.
func (c *Catalog) Refresh(ctx context.Context, lister Lister) {
	if lister == nil {
		return
	}
	fetched, err := lister.ListModels(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to fetch models", "error", err)
		return
	}
	if len(fetched) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = append([]models.ModelOption(nil), fetched...)
	if !containsID(c.options, c.selected) {
		c.selected = c.options[0].ID
	}
}

func (c *Catalog) Select(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !containsID(c.options, id) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	c.selected = id
	return nil
}

func (c *Catalog) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

func (c *Catalog) Options() []models.ModelOption {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.ModelOption(nil), c.options...)
}

// Next selects the entry after the current one, wrapping around.
func (c *Catalog) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.options {
		if o.ID == c.selected {
			c.selected = c.options[(i+1)%len(c.options)].ID
			return c.selected
		}
	}
	c.selected = c.options[0].ID
	return c.selected
}

// Group is one provider heading in the model selector.
type Group struct {
	Provider string               `json:"provider"`
	Models   []models.ModelOption `json:"models"`
}

// Grouped returns the options grouped by provider in first-appearance order.
func (c *Catalog) Grouped() []Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return GroupByProvider(c.options)
}

func GroupByProvider(options []models.ModelOption) []Group {
	var groups []Group
	index := map[string]int{}
	for _, o := range options {
		i, ok := index[o.Provider]
		if !ok {
			i = len(groups)
			index[o.Provider] = i
			groups = append(groups, Group{Provider: o.Provider})
		}
		groups[i].Models = append(groups[i].Models, o)
	}
	return groups
}

func containsID(options []models.ModelOption, id string) bool {
	for _, o := range options {
		if o.ID == id {
			return true
		}
	}
	return false
}
