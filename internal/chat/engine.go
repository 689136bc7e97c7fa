// Package chat turns one user input plus a session history into a streamed
// completion request and the messages it produces.
package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
)

const SystemInstruction = "You are OmniChat, a helpful AI assistant powered by Puter.js. You have access to the world's most advanced AI models. You can browse the web, analyze images, and remember details across conversations."

const (
	errorPrefix     = "Error: "
	fallbackFailure = "Something went wrong. Please check your connection or sign in."
)

// Request is one exchange. OnFragment, when set, observes the accumulated
// reply after every fragment; it is for display only.
type Request struct {
	History    []models.Message
	Input      string
	Model      string
	WebSearch  bool
	OnFragment func(accumulated string)
}

// Result always carries both messages. Err is the failure behind an
// error-flagged Reply, nil on success.
type Result struct {
	User  models.Message
	Reply models.Message
	Err   error
}

// Messages returns the history followed by the two new messages.
func (r Result) Messages(history []models.Message) []models.Message {
	out := models.CloneMessages(history)
	return append(out, r.User, r.Reply)
}

type Engine struct {
	inference platform.ModelInference
	now       func() time.Time
	newID     func() string

	exchanges metric.Int64Counter
	latency   metric.Float64Histogram
}

func NewEngine(inference platform.ModelInference) *Engine {
	e := &Engine{
		inference: inference,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	meter := observability.Meter()
	var err error
	if e.exchanges, err = meter.Int64Counter("chat.exchanges", metric.WithDescription("completed chat exchanges")); err != nil {
		observability.Logger().Warn("create chat.exchanges counter", "error", err)
	}
	if e.latency, err = meter.Float64Histogram("chat.latency", metric.WithUnit("ms")); err != nil {
		observability.Logger().Warn("create chat.latency histogram", "error", err)
	}
	return e
}

// UserMessage builds the message committed before the request is issued.
func (e *Engine) UserMessage(input string) models.Message {
	return models.Message{
		ID:        e.newID(),
		Role:      models.RoleUser,
		Content:   input,
		Timestamp: models.Millis(e.now()),
	}
}

// Exchange runs one request. It never returns an error: failures become an
// error-flagged assistant message.
func (e *Engine) Exchange(ctx context.Context, req Request) Result {
	return e.ExchangeWith(ctx, e.UserMessage(req.Input), req)
}

// ExchangeWith is Exchange with a caller-built user message.
func (e *Engine) ExchangeWith(ctx context.Context, user models.Message, req Request) Result {
	start := e.now()
	ctx, span := observability.Tracer().Start(ctx, "chat.exchange")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.model", req.Model),
		attribute.Bool("chat.web_search", req.WebSearch),
		attribute.Int("chat.history", len(req.History)),
	)

	text, err := e.stream(ctx, append(models.CloneMessages(req.History), user), req)
	res := Result{User: user}
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.LoggerFromContext(ctx).Error("chat exchange failed", "model", req.Model, "error", err)
		res.Err = err
		res.Reply = models.Message{
			ID:        e.newID(),
			Role:      models.RoleAssistant,
			Content:   ErrorContent(err),
			Timestamp: models.Millis(e.now()),
			IsError:   true,
		}
	} else {
		res.Reply = models.Message{
			ID:        e.newID(),
			Role:      models.RoleAssistant,
			Content:   text,
			Timestamp: models.Millis(e.now()),
			Model:     req.Model,
		}
	}

	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("model", req.Model))
	if e.exchanges != nil {
		e.exchanges.Add(ctx, 1, attrs)
	}
	if e.latency != nil {
		e.latency.Record(ctx, float64(e.now().Sub(start).Milliseconds()), attrs)
	}
	return res
}

func (e *Engine) stream(ctx context.Context, working []models.Message, req Request) (string, error) {
	opts := platform.ChatOptions{Model: req.Model, Stream: true}
	if req.WebSearch {
		opts.Tools = []platform.Tool{{Type: platform.ToolWebSearch}}
	}

	stream, err := e.inference.Chat(ctx, Payload(working), opts)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if frag.Text == "" {
			continue
		}
		sb.WriteString(frag.Text)
		if req.OnFragment != nil {
			req.OnFragment(sb.String())
		}
	}
	return sb.String(), nil
}

// Payload prefixes the system instruction to the role/content pairs of msgs.
func Payload(msgs []models.Message) []platform.ChatMessage {
	out := make([]platform.ChatMessage, 0, len(msgs)+1)
	out = append(out, platform.ChatMessage{Role: models.RoleSystem, Content: SystemInstruction})
	for _, m := range msgs {
		out = append(out, platform.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ErrorContent renders a failure as the content of an error message.
func ErrorContent(err error) string {
	desc := ""
	if err != nil {
		desc = strings.TrimSpace(err.Error())
	}
	if desc == "" {
		desc = fallbackFailure
	}
	return errorPrefix + desc
}
