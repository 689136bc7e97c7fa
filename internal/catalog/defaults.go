package catalog

import (
	"strings"

	"omnichat/internal/models"
)

var defaultModels = []models.ModelOption{
	{ID: "openai/gpt-5.2-pro", Name: "GPT-5.2 Pro", Provider: "OpenAI", Description: "Flagship reasoning model (High Effort)"},
	{ID: "openai/gpt-5.2-codex", Name: "GPT-5.2 Codex", Provider: "OpenAI", Description: "Best for coding & cybersecurity"},
	{ID: "openai/gpt-5.2-chat", Name: "GPT-5.2 Chat", Provider: "OpenAI", Description: "Optimized for conversation"},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: "OpenAI", Description: "Versatile multimodal model"},
	{ID: "o1-pro", Name: "OpenAI o1 Pro", Provider: "OpenAI", Description: "Advanced reasoning"},

	{ID: "anthropic/claude-opus-4-6", Name: "Claude Opus 4.6", Provider: "Anthropic", Description: "Maximum capability flagship"},
	{ID: "anthropic/claude-sonnet-4-6", Name: "Claude Sonnet 4.6", Provider: "Anthropic", Description: "High performance & speed"},
	{ID: "anthropic/claude-3.7-sonnet:thinking", Name: "Claude 3.7 Sonnet (Thinking)", Provider: "Anthropic", Description: "Visible step-by-step reasoning"},
	{ID: "anthropic/claude-3-7-sonnet", Name: "Claude 3.7 Sonnet", Provider: "Anthropic", Description: "Hybrid reasoning model"},

	{ID: "google/gemini-3.1-pro-preview", Name: "Gemini 3.1 Pro", Provider: "Google", Description: "Advanced reasoning & agentic workflows"},
	{ID: "google/gemini-3-pro-image-preview", Name: "Gemini 3 Pro Image", Provider: "Google", Description: "2K/4K image generation & editing"},
	{ID: "gemini-3-flash-preview", Name: "Gemini 3 Flash", Provider: "Google", Description: "Ultra-fast multimodal"},

	{ID: "deepseek/deepseek-v3.2-speciale", Name: "DeepSeek V3.2 Speciale", Provider: "DeepSeek", Description: "Maximum reasoning accuracy"},
	{ID: "deepseek/deepseek-v3.2", Name: "DeepSeek V3.2", Provider: "DeepSeek", Description: "Flagship general purpose"},
	{ID: "deepseek-reasoner", Name: "DeepSeek R1", Provider: "DeepSeek", Description: "Open-weights reasoning powerhouse"},

	{ID: "x-ai/grok-4-1-fast", Name: "Grok 4.1 Fast", Provider: "xAI", Description: "Best tool-calling & agentic model"},
	{ID: "x-ai/grok-4-1-fast-non-reasoning", Name: "Grok 4.1 Fast (Instant)", Provider: "xAI", Description: "Low latency, no reasoning overhead"},

	{ID: "qwen/qwen3.5-397b-a17b", Name: "Qwen 3.5 397B", Provider: "Qwen", Description: "Massive open-weight multimodal"},
	{ID: "qwen/qwen3-max-thinking", Name: "Qwen 3 Max Thinking", Provider: "Qwen", Description: "Flagship reasoning with tools"},

	{ID: "minimax/minimax-m2.5", Name: "MiniMax M2.5", Provider: "MiniMax", Description: "Productivity & coding powerhouse"},

	{ID: "z-ai/glm-5", Name: "GLM-5", Provider: "Z.AI", Description: "Agentic engineering & systems"},

	{ID: "meta-llama/llama-4-maverick", Name: "Llama 4 Maverick", Provider: "Meta", Description: "Frontier open model"},
	{ID: "meta-llama/llama-3.1-405b-instruct", Name: "Llama 3.1 405B", Provider: "Meta", Description: "Massive open model"},

	{ID: "mistralai/mistral-large-2512", Name: "Mistral Large 3", Provider: "Mistral", Description: "European flagship"},

	{ID: "amazon/nova-2-lite-v1", Name: "Nova 2 Lite", Provider: "Amazon", Description: "Cost-effective multimodal reasoning"},

	{ID: "perplexity/sonar", Name: "Sonar", Provider: "Perplexity", Description: "Real-time search optimized"},

	{ID: "inception/mercury", Name: "Mercury", Provider: "Inception", Description: "Ultra-low latency diffusion LLM"},
}

// Default returns a copy of the bundled model list.
func Default() []models.ModelOption {
	return append([]models.ModelOption(nil), defaultModels...)
}

// providerNames maps id prefixes and lowercase provider names to the display
// names used by the bundled list.
var providerNames = func() map[string]string {
	names := map[string]string{}
	for _, m := range defaultModels {
		names[strings.ToLower(m.Provider)] = m.Provider
		if prefix, _, ok := strings.Cut(m.ID, "/"); ok {
			names[prefix] = m.Provider
		}
	}
	names["xai"] = "xAI"
	names["mistral"] = "Mistral"
	return names
}()

// ProviderName returns the display name for a provider key such as an id
// prefix ("meta-llama") or an owned_by value ("openai"). Unknown keys are
// returned unchanged.
func ProviderName(key string) string {
	if name, ok := providerNames[strings.ToLower(strings.TrimSpace(key))]; ok {
		return name
	}
	return key
}
