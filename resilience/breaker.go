package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentsphere/toolgate/internal/metrics"
	"github.com/agentsphere/toolgate/types"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（正常工作）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中）
	StateOpen
	// StateHalfOpen 半开状态（试探性恢复）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailureThreshold 连续失败次数阈值（触发熔断）
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout 熔断恢复等待时间（从 Open -> HalfOpen）
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
}

// DefaultBreakerConfig 返回默认配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Breaker is a per-tool circuit breaker. While open it rejects every call
// without dispatching; once the recovery timeout elapses it permits
// exactly one trial call, closing again on success.
type Breaker struct {
	name   string
	config BreakerConfig
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// NewBreaker 创建熔断器
func NewBreaker(name string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	return &Breaker{
		name:   name,
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("tool", name)),
		state:  StateClosed,
	}
}

// Allow 调用前检查。返回 nil 表示允许调用；调用完成后必须以
// RecordSuccess / RecordFailure 收尾。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.trialInFlight = true
			b.logger.Info("熔断器进入半开状态")
			return nil
		}
		return types.Errorf(types.ErrCircuitOpen, "circuit for %q is open", b.name)

	case StateHalfOpen:
		// 半开状态只允许一次试探调用
		if b.trialInFlight {
			return types.Errorf(types.ErrCircuitOpen, "circuit for %q is probing", b.name)
		}
		b.trialInFlight = true
		return nil

	default:
		return types.Errorf(types.ErrInternal, "unknown breaker state %v", b.state)
	}
}

// RecordSuccess 记录一次成功调用
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.logger.Info("熔断器恢复正常")
		b.setState(StateClosed)
		b.failureCount = 0
		b.trialInFlight = false
	}
}

// RecordNeutral 记录一次无法判定上游健康的调用（例如上游限流响应）。
// 失败计数保持不变；半开状态下释放试探名额，允许下一次试探。
func (b *Breaker) RecordNeutral() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
}

// RecordFailure 记录一次失败调用
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.FailureThreshold))
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("熔断器半开状态失败，重新打开")
		b.setState(StateOpen)
		b.trialInFlight = false
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 重置熔断器（手动恢复）
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failureCount = 0
	b.trialInFlight = false
}

// setState 设置状态并记录指标。调用方持有锁。
func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	b.state = newState
	metrics.Default().BreakerTransitions.WithLabelValues(b.name, newState.String()).Inc()
}
