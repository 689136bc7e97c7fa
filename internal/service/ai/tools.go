package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"

	"omnichat/internal/config"
	"omnichat/internal/observability"
)

const (
	WebSearchToolName    = "web_search"
	WebSearchHTTPTimeout = 10 * time.Second
	maxFetchBody         = 512 * 1024
)

var ErrSearchRateLimited = errors.New("web search rate limit exceeded, please retry in a minute")

type toolUserKey struct{}

func withToolUser(ctx context.Context, uid string) context.Context {
	if uid == "" {
		return ctx
	}
	return context.WithValue(ctx, toolUserKey{}, uid)
}

func toolUserFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(toolUserKey{}).(string)
	return uid
}

// userLimiters hands out one token bucket per user.
type userLimiters struct {
	mu     sync.Mutex
	limit  rate.Limit
	burst  int
	byUser map[string]*rate.Limiter
}

func newUserLimiters(perMinute int) *userLimiters {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &userLimiters{
		limit:  rate.Every(time.Minute / time.Duration(perMinute)),
		burst:  perMinute,
		byUser: make(map[string]*rate.Limiter),
	}
}

func (l *userLimiters) Allow(uid string) bool {
	l.mu.Lock()
	lim, ok := l.byUser[uid]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byUser[uid] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

type webSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
	limiters   *userLimiters
}

type webSearchParams struct {
	Query string `json:"query"`
}

func initWebSearch(ctx context.Context, cfg config.SearchConfig) *webSearchTool {
	googleTool := initGoogleSearch(ctx, cfg)
	var duckTool tool.InvokableTool
	if !cfg.DisableDDG {
		duckTool = initDDGSearch(ctx)
	}
	if googleTool == nil && duckTool == nil {
		observability.WithFields("tool", WebSearchToolName).Warn("web search tool disabled: no search providers available")
		return nil
	}
	return &webSearchTool{
		google:     googleTool,
		duck:       duckTool,
		httpClient: &http.Client{Timeout: WebSearchHTTPTimeout},
		limiters:   newUserLimiters(cfg.RatePerMinute),
	}
}

func (w *webSearchTool) tool() tool.InvokableTool {
	info := &schema.ToolInfo{
		Name: WebSearchToolName,
		Desc: "Search the web for current information. Falls back to another provider when one fails. " +
			"A URL as query fetches that page directly.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc:     "Natural language query or URL",
				Type:     schema.String,
				Required: true,
			},
		}),
	}
	return utils.NewTool(info, w.run)
}

func (w *webSearchTool) run(ctx context.Context, params *webSearchParams) (string, error) {
	if params == nil {
		return "", errors.New("missing search parameters")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", errors.New("query must not be empty")
	}
	if w.limiters != nil && !w.limiters.Allow(toolUserFromContext(ctx)) {
		return "", ErrSearchRateLimited
	}
	log := observability.LoggerFromContext(ctx)

	if looksLikeURL(query) {
		content, err := w.fetchURL(ctx, query)
		if err == nil {
			return content, nil
		}
		log.Warn("web url fetch failed", "url", query, "error", err)
	}

	payload, err := json.Marshal(webSearchParams{Query: query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	if w.google != nil {
		result, err := w.google.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		log.Warn("google search failed", "error", err)
	}
	if w.duck != nil {
		result, err := w.duck.InvokableRun(ctx, string(payload))
		if err == nil {
			return result, nil
		}
		log.Warn("duckduckgo search failed", "error", err)
	}
	return "", errors.New("no search provider succeeded")
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "OmniChat-WebSearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func initDDGSearch(ctx context.Context) tool.InvokableTool {
	duckTool, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo search",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
	if err != nil {
		observability.WithFields("tool", WebSearchToolName).Warn("duckduckgo search disabled", "error", err)
		return nil
	}
	return duckTool
}

func initGoogleSearch(ctx context.Context, cfg config.SearchConfig) tool.InvokableTool {
	if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
		observability.WithFields("tool", WebSearchToolName).Info("google search disabled: missing api key or engine id")
		return nil
	}
	googleTool, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google custom search",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		observability.WithFields("tool", WebSearchToolName).Warn("google search disabled", "error", err)
		return nil
	}
	return googleTool
}
