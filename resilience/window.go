package resilience

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/agentsphere/toolgate/internal/metrics"
	"github.com/agentsphere/toolgate/types"
)

// WindowConfig 限流窗口配置
type WindowConfig struct {
	// Calls 每个窗口允许的调用次数
	Calls int `yaml:"calls" json:"calls"`

	// Window 窗口长度
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultWindowConfig 返回默认配置
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Calls:  60,
		Window: time.Minute,
	}
}

// Window bounds calls per rolling time window for one tool identity.
// Backed by a token bucket sized to the window budget, so Allow is a
// cheap concurrent-safe counter check.
type Window struct {
	name    string
	limiter *rate.Limiter
}

// NewWindow 创建限流窗口
func NewWindow(name string, config WindowConfig) *Window {
	def := DefaultWindowConfig()
	if config.Calls <= 0 {
		config.Calls = def.Calls
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	per := rate.Limit(float64(config.Calls) / config.Window.Seconds())
	return &Window{
		name:    name,
		limiter: rate.NewLimiter(per, config.Calls),
	}
}

// Allow consumes one call from the window budget, returning RATE_LIMITED
// when the budget is spent.
func (w *Window) Allow() error {
	if !w.limiter.Allow() {
		metrics.Default().RateLimitedTotal.WithLabelValues(w.name).Inc()
		return types.Errorf(types.ErrRateLimited, "rate window for %q exhausted", w.name)
	}
	return nil
}
