// Package ratelimit 提供按命名资源的准入控制：令牌桶、滑动窗口、
// 固定窗口三种算法在同一接口后互换，按应用侧键(用户、接口等)维护状态。
// 限流与熔断相互独立：熔断做故障隔离，限流做负载削减。
package ratelimit

import (
	"fmt"
	"time"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
)

// Algorithm 表示限流算法
type Algorithm string

const (
	// AlgorithmTokenBucket 令牌桶：允许容量内突发，长期平均速率受限
	AlgorithmTokenBucket Algorithm = "token_bucket"
	// AlgorithmSlidingWindow 滑动窗口：精确计数，内存与窗口内请求数成正比
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	// AlgorithmFixedWindow 固定窗口：O(1)内存，接受窗口边界处的突发
	AlgorithmFixedWindow Algorithm = "fixed_window"
)

// Config 限流器配置，算法在构造时固定，运行期不可更换
type Config struct {
	Algorithm Algorithm     `json:"algorithm"`
	Capacity  int           `json:"capacity"` // 令牌桶容量 / 窗口内最大请求数
	Rate      float64       `json:"rate"`     // 令牌桶每秒补充速率
	Window    time.Duration `json:"window"`   // 窗口长度
}

// Stats 限流器整体统计，与算法无关
type Stats struct {
	TotalRequests uint64 `json:"total_requests"`
	Allowed       uint64 `json:"allowed"`
	Rejected      uint64 `json:"rejected"`
}

// Limiter 定义限流器接口。每个键的状态在首次使用时惰性创建，
// 之后不会主动清理（目标规模下可接受，见DESIGN.md）。
type Limiter interface {
	// Name 返回限流器名称
	Name() string

	// Algorithm 返回所用算法
	Algorithm() Algorithm

	// Config 返回配置
	Config() Config

	// Allow 判断键key的一次请求是否准入
	Allow(key string) bool

	// WaitTime 返回键key距离下一次可能放行的时长，已可放行时为0
	WaitTime(key string) time.Duration

	// Stats 返回整体统计快照
	Stats() Stats
}

// Option 限流器构造选项
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock 注入时钟，供测试使用
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// New 按配置创建限流器
func New(name string, config Config, opts ...Option) (Limiter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	o := &options{clock: clock.NewReal()}
	for _, opt := range opts {
		opt(o)
	}

	switch config.Algorithm {
	case AlgorithmTokenBucket:
		return newTokenBucket(name, config, o.clock), nil
	case AlgorithmSlidingWindow:
		return newSlidingWindow(name, config, o.clock), nil
	case AlgorithmFixedWindow:
		return newFixedWindow(name, config, o.clock), nil
	default:
		return nil, fmt.Errorf("未知的限流算法: %s", config.Algorithm)
	}
}

// validate 校验算法所需的数值配置，避免零值配置在运行期引发
// 除零或永不限流等未定义行为
func (c Config) validate() error {
	switch c.Algorithm {
	case AlgorithmTokenBucket:
		if c.Rate <= 0 {
			return fmt.Errorf("令牌桶补充速率必须为正数: %v", c.Rate)
		}
	case AlgorithmSlidingWindow, AlgorithmFixedWindow:
		if c.Window <= 0 {
			return fmt.Errorf("窗口长度必须为正数: %v", c.Window)
		}
	default:
		return fmt.Errorf("未知的限流算法: %s", c.Algorithm)
	}

	if c.Capacity <= 0 {
		return fmt.Errorf("限流容量必须为正数: %d", c.Capacity)
	}

	return nil
}

// Execute 以装饰器方式通过限流器执行操作：被拒绝时返回携带
// 建议等待时长的*LimitExceededError，否则直接执行操作。
func Execute(l Limiter, key string, fn func() error) error {
	if !l.Allow(key) {
		return &LimitExceededError{Name: l.Name(), WaitTime: l.WaitTime(key)}
	}

	return fn()
}
