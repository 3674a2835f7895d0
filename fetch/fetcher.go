package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentsphere/toolgate/internal/metrics"
	"github.com/agentsphere/toolgate/types"
)

// Config 网页抓取配置
type Config struct {
	// 单次请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// 批量抓取的并发上限
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// 整批累计字符预算，在调度轮次之间检查
	TotalCharsCap int `yaml:"total_chars_cap" json:"total_chars_cap"`

	// 单页正文字符上限
	MaxPageChars int `yaml:"max_page_chars" json:"max_page_chars"`

	// 响应体字节读取上限
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`

	// User-Agent 请求头
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// 允许访问私有地址（仅测试用）
	AllowPrivate bool `yaml:"allow_private" json:"allow_private"`
}

// DefaultConfig 返回默认抓取配置
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 15 * time.Second,
		MaxConcurrency: 5,
		TotalCharsCap:  200_000,
		MaxPageChars:   50_000,
		MaxBodyBytes:   2 << 20,
		UserAgent:      "toolgate-fetch/1.0",
	}
}

// Page is the extracted result of fetching one URL.
type Page struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// FetchFailure records why one URL in a batch did not produce a page.
type FetchFailure struct {
	URL  string          `json:"url"`
	Code types.ErrorCode `json:"code"`
	Err  string          `json:"error"`
}

// BatchOptions overrides the configured defaults for one batch call.
// Zero values fall back to the fetcher's configuration.
type BatchOptions struct {
	Concurrency   int `json:"concurrency,omitempty"`
	TotalCharsCap int `json:"total_chars_cap,omitempty"`
}

// BatchResult aggregates a batch fetch. PartialSuccess is set when at
// least one page succeeded and at least one failed or was skipped.
type BatchResult struct {
	Pages          []Page         `json:"pages"`
	Failed         []FetchFailure `json:"failed,omitempty"`
	Succeeded      int            `json:"succeeded"`
	FailedCount    int            `json:"failed_count"`
	TotalChars     int            `json:"total_chars"`
	PartialSuccess bool           `json:"partial_success"`
}

// ipResolver is the subset of net.Resolver the SSRF guard needs.
type ipResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Fetcher retrieves web pages with SSRF screening, batch concurrency
// control and an optional shared result cache.
type Fetcher struct {
	config   Config
	client   *http.Client
	resolver ipResolver
	cache    *Cache
	logger   *zap.Logger
}

// NewFetcher creates a page fetcher. cache may be nil to disable
// result caching.
func NewFetcher(config Config, cache *Cache, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.TotalCharsCap <= 0 {
		config.TotalCharsCap = def.TotalCharsCap
	}
	if config.MaxPageChars <= 0 {
		config.MaxPageChars = def.MaxPageChars
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	return &Fetcher{
		config:   config,
		client:   &http.Client{Timeout: config.RequestTimeout},
		resolver: net.DefaultResolver,
		cache:    cache,
		logger:   logger.With(zap.String("component", "fetcher")),
	}
}

// Fetch retrieves a single URL and extracts its title and text.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (*Page, error) {
	u, err := f.validateTarget(ctx, raw)
	if err != nil {
		metrics.Default().FetchesTotal.WithLabelValues("blocked").Inc()
		return nil, err
	}

	if f.cache != nil {
		if page, ok := f.cache.Get(ctx, u.String()); ok {
			metrics.Default().FetchesTotal.WithLabelValues("cache_hit").Inc()
			return page, nil
		}
	}

	page, err := f.fetchOne(ctx, u.String())
	if err != nil {
		metrics.Default().FetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Default().FetchesTotal.WithLabelValues("success").Inc()

	if f.cache != nil {
		f.cache.Set(ctx, page)
	}
	return page, nil
}

// FetchBatch retrieves urls concurrently with a bounded in-flight
// count. The accumulated character budget is checked before each URL
// is scheduled; once exhausted, remaining URLs are reported as skipped
// rather than fetched. An empty list, or a list with no syntactically
// valid URL, is an input error. When every URL fails the call is an
// overall failure: the per-URL breakdown is still returned alongside
// the error so callers can inspect what went wrong.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string, opts BatchOptions) (*BatchResult, error) {
	if len(urls) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "no urls given")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = f.config.MaxConcurrency
	}
	if opts.TotalCharsCap <= 0 {
		opts.TotalCharsCap = f.config.TotalCharsCap
	}

	result := &BatchResult{}
	var mu sync.Mutex

	// Screen everything up front so scheduling only sees viable targets.
	type target struct {
		raw string
		url string
	}
	var targets []target
	for _, raw := range urls {
		u, err := f.validateTarget(ctx, raw)
		if err != nil {
			metrics.Default().FetchesTotal.WithLabelValues("blocked").Inc()
			result.Failed = append(result.Failed, FetchFailure{
				URL:  raw,
				Code: types.GetErrorCode(err),
				Err:  err.Error(),
			})
			continue
		}
		targets = append(targets, target{raw: raw, url: u.String()})
	}
	if len(targets) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "no fetchable urls given")
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)

	for _, t := range targets {
		mu.Lock()
		over := result.TotalChars >= opts.TotalCharsCap
		if over {
			result.Failed = append(result.Failed, FetchFailure{
				URL:  t.raw,
				Code: types.ErrResourceExhausted,
				Err:  "batch character budget exhausted",
			})
		}
		mu.Unlock()
		if over {
			continue
		}

		eg.Go(func() error {
			var (
				page *Page
				ok   bool
			)
			if f.cache != nil {
				page, ok = f.cache.Get(egCtx, t.url)
			}
			if !ok {
				var err error
				page, err = f.fetchOne(egCtx, t.url)
				if err != nil {
					metrics.Default().FetchesTotal.WithLabelValues("error").Inc()
					mu.Lock()
					result.Failed = append(result.Failed, FetchFailure{
						URL:  t.raw,
						Code: types.GetErrorCode(err),
						Err:  err.Error(),
					})
					mu.Unlock()
					return nil
				}
				metrics.Default().FetchesTotal.WithLabelValues("success").Inc()
				if f.cache != nil {
					f.cache.Set(egCtx, page)
				}
			} else {
				metrics.Default().FetchesTotal.WithLabelValues("cache_hit").Inc()
			}

			mu.Lock()
			result.Pages = append(result.Pages, *page)
			result.TotalChars += len(page.Content)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result.Succeeded = len(result.Pages)
	result.FailedCount = len(result.Failed)
	result.PartialSuccess = result.Succeeded > 0 && result.FailedCount > 0
	f.logger.Info("batch fetch completed",
		zap.Int("requested", len(urls)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.FailedCount),
		zap.Int("total_chars", result.TotalChars))

	if result.Succeeded == 0 {
		return result, types.Errorf(types.ErrUpstream, "all %d urls failed", result.FailedCount).WithRetryable(true)
	}
	return result, nil
}

// fetchOne performs the actual GET and extraction for a pre-validated URL.
func (f *Fetcher) fetchOne(ctx context.Context, target string) (*Page, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidInput, "building request for %q", target).WithCause(err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, types.Errorf(types.ErrTimeout, "fetching %q timed out", target).WithCause(err)
		}
		return nil, types.Errorf(types.ErrUpstream, "fetching %q", target).WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, types.Errorf(types.ErrUpstream, "reading body of %q", target).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, types.Errorf(types.ErrUpstream, "fetching %q: HTTP %d", target, resp.StatusCode).
			WithHTTPStatus(resp.StatusCode)
	}

	var title, content string
	if isHTML(resp.Header.Get("Content-Type")) {
		title, content = extractDocument(string(body))
	} else {
		content = strings.TrimSpace(string(body))
	}
	if len(content) > f.config.MaxPageChars {
		content = content[:f.config.MaxPageChars]
	}

	return &Page{
		URL:        target,
		Title:      title,
		Content:    content,
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml+xml") ||
		contentType == ""
}
