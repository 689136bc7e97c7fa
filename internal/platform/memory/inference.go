package memory

import (
	"context"
	"io"
	"sync"

	"omnichat/internal/models"
	"omnichat/internal/platform"
)

// Reply scripts the outcome of one Chat call: the fragments delivered in
// order, then either a clean end of stream or StreamErr. ChatErr fails the
// call before any stream exists.
type Reply struct {
	Fragments []string
	StreamErr error
	ChatErr   error
}

// ChatCall records what Chat was invoked with.
type ChatCall struct {
	Messages []platform.ChatMessage
	Options  platform.ChatOptions
}

// Inference is a scripted ModelInference. Replies are consumed in order; once
// exhausted it echoes the last user message back.
type Inference struct {
	mu      sync.Mutex
	replies []Reply
	calls   []ChatCall

	Models   []models.ModelOption
	ListErr  error
	OCRText  string
	OCRErr   error
	ocrCalls []string

	// Gate, when non-nil, blocks every stream before its first fragment until
	// it is closed or receives a value.
	Gate chan struct{}
	// OCRGate, when non-nil, blocks Img2Txt the same way.
	OCRGate chan struct{}
}

func NewInference(replies ...Reply) *Inference {
	return &Inference{replies: replies}
}

// Script appends more replies.
func (m *Inference) Script(replies ...Reply) {
	m.mu.Lock()
	m.replies = append(m.replies, replies...)
	m.mu.Unlock()
}

func (m *Inference) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatCall(nil), m.calls...)
}

func (m *Inference) OCRCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ocrCalls...)
}

func (m *Inference) ListModels(ctx context.Context) ([]models.ModelOption, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return append([]models.ModelOption(nil), m.Models...), nil
}

func (m *Inference) Chat(ctx context.Context, msgs []platform.ChatMessage, opts platform.ChatOptions) (platform.FragmentStream, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ChatCall{Messages: append([]platform.ChatMessage(nil), msgs...), Options: opts})
	var reply Reply
	if len(m.replies) > 0 {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	} else {
		reply = Reply{Fragments: []string{echo(msgs)}}
	}
	m.mu.Unlock()

	if reply.ChatErr != nil {
		return nil, reply.ChatErr
	}
	return &stream{ctx: ctx, reply: reply, gate: m.Gate}, nil
}

func (m *Inference) Img2Txt(ctx context.Context, encodedImage string) (string, error) {
	m.mu.Lock()
	m.ocrCalls = append(m.ocrCalls, encodedImage)
	gate := m.OCRGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.OCRErr != nil {
		return "", m.OCRErr
	}
	return m.OCRText, nil
}

func echo(msgs []platform.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return "You said: " + msgs[i].Content
		}
	}
	return "Hello!"
}

type stream struct {
	ctx    context.Context
	reply  Reply
	pos    int
	gate   chan struct{}
	closed bool
	mu     sync.Mutex
}

func (s *stream) Recv() (platform.Fragment, error) {
	if s.gate != nil && s.pos == 0 {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return platform.Fragment{}, s.ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return platform.Fragment{}, io.ErrClosedPipe
	}
	if s.pos < len(s.reply.Fragments) {
		text := s.reply.Fragments[s.pos]
		s.pos++
		return platform.Fragment{Text: text}, nil
	}
	s.pos++
	if s.reply.StreamErr != nil {
		return platform.Fragment{}, s.reply.StreamErr
	}
	return platform.Fragment{}, io.EOF
}

func (s *stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
