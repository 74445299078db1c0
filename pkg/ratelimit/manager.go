package ratelimit

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
)

// Manager 按名称管理限流器，一个进程内同名限流器至多存在一个。
// Manager由应用的组装入口持有并传递，不做包级全局状态。
type Manager interface {
	// GetOrCreate 返回已有的限流器，不存在时按配置创建。
	// 配置错误(未知算法)时返回error。
	GetOrCreate(name string, config Config) (Limiter, error)

	// Get 返回已有的限流器，不存在时返回nil
	Get(name string) Limiter

	// Snapshot 返回所有限流器的配置与统计，供管理接口使用
	Snapshot() map[string]Info
}

// Info 单个限流器的观测信息
type Info struct {
	Algorithm Algorithm `json:"algorithm"`
	Config    Config    `json:"config"`
	Stats     Stats     `json:"stats"`
}

// manager 实现Manager接口
type manager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	clock    clock.Clock
	logger   logging.Logger
}

// NewManager 创建限流器管理器
func NewManager(logger logging.Logger, clk clock.Clock) Manager {
	if clk == nil {
		clk = clock.NewReal()
	}

	return &manager{
		limiters: make(map[string]Limiter),
		clock:    clk,
		logger:   logger,
	}
}

// GetOrCreate 返回或创建限流器
func (m *manager) GetOrCreate(name string, config Config) (Limiter, error) {
	m.mu.RLock()
	l, exists := m.limiters[name]
	m.mu.RUnlock()

	if exists {
		return l, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 拿到写锁后二次检查，保证懒创建无竞态
	if l, exists = m.limiters[name]; exists {
		return l, nil
	}

	l, err := New(name, config, WithClock(m.clock))
	if err != nil {
		return nil, err
	}

	m.limiters[name] = l

	m.logger.Info("创建限流器",
		zap.String("limiter", name),
		zap.String("algorithm", string(config.Algorithm)))

	return l, nil
}

// Get 返回已有的限流器
func (m *manager) Get(name string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.limiters[name]
}

// Snapshot 返回所有限流器的观测信息
func (m *manager) Snapshot() map[string]Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Info, len(m.limiters))
	for name, l := range m.limiters {
		result[name] = Info{
			Algorithm: l.Algorithm(),
			Config:    l.Config(),
			Stats:     l.Stats(),
		}
	}

	return result
}
