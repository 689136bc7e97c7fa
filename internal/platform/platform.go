// Package platform declares the capabilities OmniChat consumes from its hosting
// platform: identity, a per-user key-value store, a per-user file store and
// model inference. Every method that may block takes a context.
package platform

import (
	"context"
	"errors"

	"omnichat/internal/models"
)

var (
	// ErrNotSignedIn is returned by capabilities that require an identity.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrFileNotFound is returned by FileStore.Read for missing paths.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidPath is returned for paths escaping the user's file root.
	ErrInvalidPath = errors.New("invalid path")
)

type Identity interface {
	IsSignedIn() bool
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	User(ctx context.Context) (*models.User, error)
}

// KeyValueStore persists string values per user. found is false for absent keys.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
}

type WriteOptions struct {
	CreateMissingParents bool
}

type FileStore interface {
	Write(ctx context.Context, path string, data []byte, opts WriteOptions) error
	Read(ctx context.Context, path string) ([]byte, error)
}

type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

const ToolWebSearch = "web_search"

type Tool struct {
	Type string `json:"type"`
}

type ChatOptions struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Tools  []Tool `json:"tools,omitempty"`
}

// HasTool reports whether a tool of the given type was requested.
func (o ChatOptions) HasTool(kind string) bool {
	for _, t := range o.Tools {
		if t.Type == kind {
			return true
		}
	}
	return false
}

// Fragment is one incremental piece of a streamed reply.
type Fragment struct {
	Text string
}

// FragmentStream yields fragments until Recv returns io.EOF. Close must
// always be called, including after an error.
type FragmentStream interface {
	Recv() (Fragment, error)
	Close()
}

type ModelInference interface {
	ListModels(ctx context.Context) ([]models.ModelOption, error)
	Chat(ctx context.Context, msgs []ChatMessage, opts ChatOptions) (FragmentStream, error)
	Img2Txt(ctx context.Context, encodedImage string) (string, error)
}

// Services bundles the capabilities bound to one user.
type Services struct {
	Identity  Identity
	KV        KeyValueStore
	Files     FileStore
	Inference ModelInference
}
