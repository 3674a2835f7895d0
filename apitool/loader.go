package apitool

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/types"
)

// Loader fetches and parses API documents from URLs or local files,
// caching parsed documents by source.
type Loader struct {
	client *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Document
}

// NewLoader creates a document loader.
func NewLoader(timeout time.Duration, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "apidoc_loader")),
		cache:  make(map[string]*Document),
	}
}

// Load parses the document at source, which is an http(s) URL or a
// local file path.
func (l *Loader) Load(ctx context.Context, source string) (*Document, error) {
	l.mu.RLock()
	if doc, ok := l.cache[source]; ok {
		l.mu.RUnlock()
		return doc, nil
	}
	l.mu.RUnlock()

	var data []byte
	var err error
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = l.fetch(ctx, source)
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			err = types.Errorf(types.ErrNotFound, "reading api document %q", source).WithCause(err)
		}
	}
	if err != nil {
		return nil, err
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[source] = doc
	l.mu.Unlock()

	l.logger.Info("loaded api document",
		zap.String("title", doc.Info.Title),
		zap.String("version", doc.Info.Version),
		zap.Int("paths", len(doc.Paths)))
	return doc, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "building document request").WithCause(err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, types.Errorf(types.ErrUpstream, "fetching api document %q", url).WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.ErrUpstream, "fetching api document %q: HTTP %d", url, resp.StatusCode).
			WithHTTPStatus(resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
