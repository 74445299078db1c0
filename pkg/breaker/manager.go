package breaker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
)

// Manager 按名称管理熔断器，一个进程内同名熔断器至多存在一个。
// Manager由应用的组装入口持有并传递，不做包级全局状态。
type Manager interface {
	// GetOrCreate 返回已有的熔断器，不存在时按配置创建
	GetOrCreate(name string, config Config) *CircuitBreaker

	// Get 返回已有的熔断器，不存在时返回nil
	Get(name string) *CircuitBreaker

	// Names 返回所有熔断器名称
	Names() []string

	// Reset 按名称重置熔断器，不存在时为空操作
	Reset(name string)

	// Snapshot 返回所有熔断器的状态与统计，供管理接口使用
	Snapshot() map[string]Info
}

// Info 单个熔断器的观测信息
type Info struct {
	State  string `json:"state"`
	Stats  Stats  `json:"stats"`
	Counts Counts `json:"counts"`
}

// manager 实现Manager接口
type manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	clock    clock.Clock
	logger   logging.Logger
}

// NewManager 创建熔断器管理器
func NewManager(logger logging.Logger, clk clock.Clock) Manager {
	if clk == nil {
		clk = clock.NewReal()
	}

	return &manager{
		breakers: make(map[string]*CircuitBreaker),
		clock:    clk,
		logger:   logger,
	}
}

// GetOrCreate 返回或创建熔断器
func (m *manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// 拿到写锁后二次检查，保证懒创建无竞态
	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	cb = New(name, config, m.logger, m.clock)
	m.breakers[name] = cb

	m.logger.Info("创建熔断器", zap.String("breaker", name))

	return cb
}

// Get 返回已有的熔断器
func (m *manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.breakers[name]
}

// Names 返回所有熔断器名称
func (m *manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}

	return names
}

// Reset 按名称重置熔断器
func (m *manager) Reset(name string) {
	m.mu.RLock()
	cb := m.breakers[name]
	m.mu.RUnlock()

	if cb == nil {
		return
	}

	m.logger.Info("重置熔断器", zap.String("breaker", name))
	cb.Reset()
}

// Snapshot 返回所有熔断器的观测信息
func (m *manager) Snapshot() map[string]Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Info, len(m.breakers))
	for name, cb := range m.breakers {
		result[name] = Info{
			State:  cb.State().String(),
			Stats:  cb.Stats(),
			Counts: cb.Counts(),
		}
	}

	return result
}
