// Package breaker 实现按名称隔离故障依赖的熔断器：
// 经典的关闭/打开/半开状态机，纯内存状态，不做任何I/O。
package breaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
)

// State 表示熔断器状态
type State int

const (
	// StateClosed 关闭状态，请求正常通过
	StateClosed State = iota
	// StateOpen 打开状态，请求被立即拒绝
	StateOpen
	// StateHalfOpen 半开状态，放行有限的探测请求
	StateHalfOpen
)

// String 返回状态的可读名称
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置，构造时固定
type Config struct {
	FailureThreshold int           // 连续失败多少次后打开
	SuccessThreshold int           // 半开状态下连续成功多少次后关闭
	OpenTimeout      time.Duration // 打开状态持续多久后进入半开
	HalfOpenMaxCalls int           // 半开状态下放行的最大探测请求数
	ExcludedErrors   []error       // 不计入失败的错误种类(业务预期错误)
}

// withDefaults 补齐未设置的配置项
func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}

	return c
}

// Stats 熔断器生命周期统计，Reset不会清零
type Stats struct {
	TotalCalls       uint64 `json:"total_calls"`
	TotalSuccesses   uint64 `json:"total_successes"`
	TotalFailures    uint64 `json:"total_failures"`
	RejectedCalls    uint64 `json:"rejected_calls"`
	StateTransitions uint64 `json:"state_transitions"`
}

// Counts 熔断器瞬时计数快照
type Counts struct {
	ConsecutiveFailures  int `json:"consecutive_failures"`
	ConsecutiveSuccesses int `json:"consecutive_successes"`
	HalfOpenCalls        int `json:"half_open_calls"`
}

// CircuitBreaker 是一个命名依赖的熔断器。所有方法都可以被任意协程并发调用。
type CircuitBreaker struct {
	name   string
	config Config

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int // 仅在半开状态下累计
	halfOpenCalls        int // 本次半开周期已放行的探测请求数
	lastFailureTime      time.Time
	stats                Stats

	clock  clock.Clock
	logger logging.Logger
}

// New 创建一个熔断器，初始状态为关闭
func New(name string, config Config, logger logging.Logger, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.NewReal()
	}

	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
		clock:  clk,
		logger: logger,
	}
}

// Name 返回熔断器名称
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Config 返回熔断器配置
func (cb *CircuitBreaker) Config() Config {
	return cb.config
}

// State 返回当前状态。打开状态超时后的半开迁移在读取时惰性完成。
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.evaluateLocked()

	return cb.state
}

// Allow 判断当前是否放行请求：
// 关闭状态总是放行；打开状态拒绝并累计拒绝数；
// 半开状态仅在探测配额未用尽时放行。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.evaluateLocked()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		cb.stats.RejectedCalls++

		return false
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++

			return true
		}

		cb.stats.RejectedCalls++

		return false
	default:
		return false
	}
}

// RecordSuccess 记录一次成功调用
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.recordSuccessLocked()
}

// RecordFailure 记录一次失败调用。配置中排除的错误种类按成功处理，
// 使"未找到"之类的业务错误不触发熔断。
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.isExcluded(err) {
		cb.recordSuccessLocked()

		return
	}

	cb.evaluateLocked()

	cb.stats.TotalCalls++
	cb.stats.TotalFailures++
	cb.lastFailureTime = cb.clock.Now()
	cb.consecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		// 半开状态下单次失败立即回到打开状态
		cb.transitionLocked(StateOpen)
	case StateOpen:
		// 已经打开，只刷新失败时间
	}
}

// Reset 强制回到关闭状态并清零瞬时计数，生命周期统计保留
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionLocked(StateClosed)
	}

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenCalls = 0
	cb.lastFailureTime = time.Time{}
}

// Stats 返回生命周期统计快照
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.stats
}

// Counts 返回瞬时计数快照
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Counts{
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		HalfOpenCalls:        cb.halfOpenCalls,
	}
}

// Execute 通过熔断器执行一个操作：被拒绝时返回*OpenError，
// 否则执行操作并按结果记账，下游错误原样返回。
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	if !cb.Allow() {
		return nil, &OpenError{Name: cb.name}
	}

	result, err := fn()
	if err != nil {
		cb.RecordFailure(err)

		return result, err
	}

	cb.RecordSuccess()

	return result, nil
}

// recordSuccessLocked 持锁状态下记录成功
func (cb *CircuitBreaker) recordSuccessLocked() {
	cb.evaluateLocked()

	cb.stats.TotalCalls++
	cb.stats.TotalSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
			cb.consecutiveFailures = 0
			cb.consecutiveSuccesses = 0
			cb.halfOpenCalls = 0
		}
	}
}

// evaluateLocked 惰性评估打开->半开迁移，必须持锁调用
func (cb *CircuitBreaker) evaluateLocked() {
	if cb.state == StateOpen &&
		cb.clock.Now().Sub(cb.lastFailureTime) >= cb.config.OpenTimeout {
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.consecutiveSuccesses = 0
	}
}

// transitionLocked 执行状态迁移并记录，必须持锁调用
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.stats.StateTransitions++

	cb.logger.Warn("熔断器状态变更",
		zap.String("breaker", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// isExcluded 判断错误是否属于排除种类
func (cb *CircuitBreaker) isExcluded(err error) bool {
	for _, excluded := range cb.config.ExcludedErrors {
		if errors.Is(err, excluded) {
			return true
		}
	}

	return false
}
