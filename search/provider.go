package search

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

// Engine selects which search vertical a query runs against. The
// engine is threaded per call, never fixed at construction, so one
// provider instance serves every vertical.
type Engine string

const (
	EngineWeb     Engine = "web"
	EngineNews    Engine = "news"
	EngineFinance Engine = "finance"
)

// Config 搜索提供方配置
type Config struct {
	// 搜索后端地址
	BaseURL string `yaml:"base_url" json:"base_url"`

	// 后端 API 密钥
	APIKey string `yaml:"api_key" json:"api_key"`

	// 单次查询超时
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// 返回结果上限
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// DefaultConfig 返回默认搜索配置
func DefaultConfig() Config {
	return Config{
		Timeout:    10 * time.Second,
		MaxResults: 10,
	}
}

// Options narrows a query. Zero values mean "no restriction".
type Options struct {
	// TimeFilter is one of day, week, month, year, or empty.
	TimeFilter string `json:"time_filter,omitempty"`

	// Locale is a BCP 47-style tag such as "en" or "en-US".
	Locale string `json:"locale,omitempty"`

	// MaxResults overrides the configured limit when positive.
	MaxResults int `json:"max_results,omitempty"`
}

// Result is one organic search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	Source      string `json:"source,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// Quote is one finance-engine instrument quote.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Currency      string  `json:"currency"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// Response carries the hits for one query. Quotes is populated only by
// the finance engine.
type Response struct {
	Engine  Engine   `json:"engine"`
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Quotes  []Quote  `json:"quotes,omitempty"`
}

var (
	validTimeFilters = map[string]bool{"": true, "day": true, "week": true, "month": true, "year": true}
	localePattern    = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
)

// Provider queries an external search backend over HTTP.
type Provider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewProvider creates a search provider.
func NewProvider(config Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.MaxResults <= 0 {
		config.MaxResults = def.MaxResults
	}
	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With(zap.String("component", "search")),
	}
}

// Search runs query against the chosen engine. Unknown engines, time
// filters and malformed locales are rejected before any network I/O.
func (p *Provider) Search(ctx context.Context, engine Engine, query string, opts Options) (*Response, error) {
	if query == "" {
		return nil, types.NewError(types.ErrInvalidInput, "query is empty")
	}
	switch engine {
	case EngineWeb, EngineNews, EngineFinance:
	default:
		return nil, types.Errorf(types.ErrInvalidInput, "unknown search engine %q", engine)
	}
	if !validTimeFilters[opts.TimeFilter] {
		return nil, types.Errorf(types.ErrInvalidInput, "unknown time filter %q", opts.TimeFilter)
	}
	if opts.Locale != "" && !localePattern.MatchString(opts.Locale) {
		return nil, types.Errorf(types.ErrInvalidInput, "malformed locale %q", opts.Locale)
	}

	limit := p.config.MaxResults
	if opts.MaxResults > 0 && opts.MaxResults < limit {
		limit = opts.MaxResults
	}

	body, err := p.query(ctx, engine, query, opts, limit)
	if err != nil {
		return nil, err
	}

	resp := &Response{Engine: engine, Query: query}
	parsed := gjson.ParseBytes(body)

	parsed.Get("results").ForEach(func(_, hit gjson.Result) bool {
		resp.Results = append(resp.Results, Result{
			Title:       hit.Get("title").String(),
			URL:         hit.Get("url").String(),
			Snippet:     hit.Get("snippet").String(),
			Source:      hit.Get("source").String(),
			PublishedAt: hit.Get("published_at").String(),
		})
		return len(resp.Results) < limit
	})

	if engine == EngineFinance {
		parsed.Get("quotes").ForEach(func(_, q gjson.Result) bool {
			resp.Quotes = append(resp.Quotes, Quote{
				Symbol:        q.Get("symbol").String(),
				Name:          q.Get("name").String(),
				Price:         q.Get("price").Float(),
				Currency:      q.Get("currency").String(),
				Change:        q.Get("change").Float(),
				ChangePercent: q.Get("change_percent").Float(),
			})
			return true
		})
	}

	p.logger.Debug("search completed",
		zap.String("engine", string(engine)),
		zap.Int("results", len(resp.Results)),
		zap.Int("quotes", len(resp.Quotes)))
	return resp, nil
}

// query issues the backend request and returns the raw response body.
func (p *Provider) query(ctx context.Context, engine Engine, q string, opts Options, limit int) ([]byte, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("engine", string(engine))
	params.Set("limit", strconv.Itoa(limit))
	if opts.TimeFilter != "" {
		params.Set("time_range", opts.TimeFilter)
	}
	if opts.Locale != "" {
		params.Set("locale", opts.Locale)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "building search request").WithCause(err)
	}
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrTimeout, "search timed out").WithCause(err)
		}
		return nil, types.NewError(types.ErrUpstream, "search backend unreachable").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUpstream, "reading search response").WithCause(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, types.NewError(types.ErrRateLimited, "search backend rate limited").
			WithHTTPStatus(resp.StatusCode).WithRetryable(true)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.ErrUpstream, "search backend returned HTTP %d", resp.StatusCode).
			WithHTTPStatus(resp.StatusCode)
	}
	return body, nil
}
