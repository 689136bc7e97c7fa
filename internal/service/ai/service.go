package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"omnichat/internal/catalog"
	"omnichat/internal/config"
	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/platform"
)

const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"

	listTimeout = 15 * time.Second
	ocrPrompt   = "Extract all text from this image. Reply with the text only."
)

var ErrProviderNotConfigured = errors.New("provider not configured")

// newChatModel builds the provider chat model for a routed model name.
// Tests replace it with a scripted model.
var newChatModel = buildChatModel

// Inference serves platform.ModelInference over eino chat models. Chat models
// and ReAct agents are built lazily and cached per model id.
type Inference struct {
	cfg        *config.Config
	httpClient *http.Client
	search     *webSearchTool
	tools      []tool.BaseTool

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
	agents map[string]*react.Agent
}

func NewInference(ctx context.Context, cfg *config.Config) *Inference {
	s := &Inference{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: listTimeout},
		models:     make(map[string]model.ToolCallingChatModel),
		agents:     make(map[string]*react.Agent),
	}
	if ws := initWebSearch(ctx, cfg.Search); ws != nil {
		s.search = ws
		s.tools = []tool.BaseTool{ws.tool()}
	}
	return s
}

// ForUser binds the inference to a user so tool calls are rate limited per user.
func (s *Inference) ForUser(uid string) platform.ModelInference {
	return &userInference{Inference: s, uid: uid}
}

type userInference struct {
	*Inference
	uid string
}

func (u *userInference) Chat(ctx context.Context, msgs []platform.ChatMessage, opts platform.ChatOptions) (platform.FragmentStream, error) {
	return u.Inference.Chat(withToolUser(ctx, u.uid), msgs, opts)
}

// Chat starts a reply for msgs. With the web_search tool requested and a search
// provider available the exchange runs through a ReAct agent.
func (s *Inference) Chat(ctx context.Context, msgs []platform.ChatMessage, opts platform.ChatOptions) (platform.FragmentStream, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("model is required")
	}
	input := toSchema(msgs)

	if opts.HasTool(platform.ToolWebSearch) && len(s.tools) > 0 {
		agent, err := s.agent(ctx, opts.Model)
		if err != nil {
			return nil, err
		}
		if !opts.Stream {
			msg, err := agent.Generate(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("agent generate: %w", err)
			}
			return singleFragment(msg.Content), nil
		}
		reader, err := agent.Stream(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("agent stream: %w", err)
		}
		return newFragmentStream(reader), nil
	}

	chatModel, err := s.chatModel(ctx, opts.Model)
	if err != nil {
		return nil, err
	}
	if !opts.Stream {
		msg, err := chatModel.Generate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		return singleFragment(msg.Content), nil
	}
	reader, err := chatModel.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return newFragmentStream(reader), nil
}

// Img2Txt sends the data URL as an image part to the OCR model.
func (s *Inference) Img2Txt(ctx context.Context, encodedImage string) (string, error) {
	if !strings.HasPrefix(encodedImage, "data:") {
		return "", errors.New("image must be a data url")
	}
	chatModel, err := s.chatModel(ctx, s.cfg.OCR.Model)
	if err != nil {
		return "", err
	}
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: ocrPrompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: encodedImage}},
		},
	}
	out, err := chatModel.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(out.Content), nil
}

// ListModels fetches an OpenAI-compatible /models listing. Without a configured
// list URL it returns nothing and the bundled catalog stays in place.
func (s *Inference) ListModels(ctx context.Context) ([]models.ModelOption, error) {
	listURL := strings.TrimSpace(s.cfg.Catalog.ListURL)
	if listURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.Catalog.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Catalog.APIKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read model list: %w", err)
	}
	return parseModelList(body)
}

func parseModelList(body []byte) ([]models.ModelOption, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("model list is not valid json")
	}
	var out []models.ModelOption
	gjson.GetBytes(body, "data").ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		name := item.Get("name").String()
		if name == "" {
			name = id
		}
		key := item.Get("owned_by").String()
		if prefix, _, ok := strings.Cut(id, "/"); ok {
			key = prefix
		}
		out = append(out, models.ModelOption{
			ID:          id,
			Name:        name,
			Provider:    catalog.ProviderName(key),
			Description: item.Get("description").String(),
		})
		return true
	})
	return out, nil
}

// route picks the provider for a model id and the name sent to it.
func route(modelID string) (provider, name string) {
	switch {
	case strings.HasPrefix(modelID, "anthropic/"):
		return ProviderClaude, strings.TrimPrefix(modelID, "anthropic/")
	case strings.HasPrefix(modelID, "google/"):
		return ProviderGemini, strings.TrimPrefix(modelID, "google/")
	case strings.HasPrefix(modelID, "gemini-"):
		return ProviderGemini, modelID
	default:
		return ProviderOpenAI, modelID
	}
}

func (s *Inference) chatModel(ctx context.Context, modelID string) (model.ToolCallingChatModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[modelID]; ok {
		return m, nil
	}
	provider, name := route(modelID)
	provCfg, ok := s.cfg.Providers[provider]
	if !ok || provCfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	m, err := newChatModel(ctx, provider, name, provCfg)
	if err != nil {
		return nil, fmt.Errorf("init %s model %s: %w", provider, name, err)
	}
	s.models[modelID] = m
	observability.Logger().Info("chat model ready", "model", modelID, "provider", provider)
	return m, nil
}

func (s *Inference) agent(ctx context.Context, modelID string) (*react.Agent, error) {
	chatModel, err := s.chatModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[modelID]; ok {
		return a, nil
	}
	a, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: s.tools,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init react agent: %w", err)
	}
	s.agents[modelID] = a
	return a, nil
}

func buildChatModel(ctx context.Context, provider, name string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch provider {
	case ProviderClaude:
		var baseURL *string
		if provCfg.BaseURL != "" {
			baseURL = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     name,
			BaseURL:   baseURL,
			MaxTokens: 4096,
		})
	case ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("genai client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  name,
		})
	default:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   name,
			APIKey:  provCfg.APIKey,
		})
	}
}

func toSchema(msgs []platform.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, msg := range msgs {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		out = append(out, &schema.Message{Role: role, Content: msg.Content})
	}
	return out
}
