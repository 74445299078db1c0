package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
	"github.com/zhoudengt/hifate-governance/pkg/model"
)

// ErrTargetNotFound 表示指定名称的监控目标不存在
var ErrTargetNotFound = errors.New("监控目标未找到")

// StatusListener 接收目标可见状态的变更通知。
// 监听器panic会被捕获并记录，不会中断检查流程。
type StatusListener interface {
	OnStatusChange(name string, old, new model.HealthStatus)
}

// StatusListenerFunc 将函数适配为StatusListener
type StatusListenerFunc func(name string, old, new model.HealthStatus)

// OnStatusChange 实现StatusListener
func (f StatusListenerFunc) OnStatusChange(name string, old, new model.HealthStatus) {
	f(name, old, new)
}

// Stats 健康检查的汇总统计，供仪表盘使用
type Stats struct {
	Total     int                                 `json:"total"`
	Healthy   int                                 `json:"healthy"`
	Degraded  int                                 `json:"degraded"`
	Unhealthy int                                 `json:"unhealthy"`
	Unknown   int                                 `json:"unknown"`
	Results   map[string]*model.HealthCheckResult `json:"results"`
}

// Checker 定义健康检查器接口
type Checker interface {
	// Register 添加一个监控目标，初始状态unknown；同名目标重复注册时覆盖
	Register(name, host string, port int, opts ...TargetOption)

	// Unregister 停止监控并丢弃已存结果，目标不存在时为空操作
	Unregister(name string)

	// CheckService 对一个目标同步执行一次探测，应用去抖动后存储并返回结果
	CheckService(ctx context.Context, name string) (*model.HealthCheckResult, error)

	// CheckAll 用有界协程池并发探测所有目标，单个目标的阻塞不会拖慢其他
	// 目标超过各自的超时。探测失败被吸收进结果，永不作为error返回。
	CheckAll(ctx context.Context) map[string]*model.HealthCheckResult

	// Start 启动后台周期巡检，重复调用为空操作
	Start()

	// Stop 停止后台巡检并等待当前一轮结束，重复调用为空操作
	Stop()

	// OnStatusChange 订阅状态变更通知，返回退订函数
	OnStatusChange(listener StatusListener) (unsubscribe func())

	// Target 按名称返回监控目标的端点信息
	Target(name string) (Target, bool)

	// Results 返回所有目标的最新结果快照
	Results() map[string]*model.HealthCheckResult

	// GetStats 返回汇总统计
	GetStats() Stats
}

// TargetOption 监控目标的可选属性
type TargetOption func(*target)

// WithProbeKind 选择内置探测策略，默认TCP连通性探测
func WithProbeKind(kind ProbeKind) TargetOption {
	return func(t *target) { t.probe = probeForKind(kind) }
}

// WithProbePath 设置应用层健康检查路径
func WithProbePath(path string) TargetOption {
	return func(t *target) { t.path = path }
}

// WithProbe 使用调用方提供的探测策略
func WithProbe(probe Probe) TargetOption {
	return func(t *target) { t.probe = probe }
}

// WithTargetThresholds 覆盖单个目标的去抖动阈值
func WithTargetThresholds(healthy, unhealthy int) TargetOption {
	return func(t *target) {
		t.healthyThreshold = healthy
		t.unhealthyThreshold = unhealthy
	}
}

// target 一个被监控目标及其去抖动计数
type target struct {
	name string
	host string
	port int
	path string

	probe              Probe
	healthyThreshold   int
	unhealthyThreshold int

	consecutiveSuccesses int
	consecutiveFailures  int
	status               model.HealthStatus // 去抖动后的可见状态
	lastResult           *model.HealthCheckResult
}

// Option 检查器自身的构造选项
type Option func(*checker)

// WithInterval 设置后台巡检周期
func WithInterval(interval time.Duration) Option {
	return func(c *checker) { c.interval = interval }
}

// WithTimeout 设置单次探测超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *checker) { c.timeout = timeout }
}

// WithThresholds 设置默认去抖动阈值
func WithThresholds(healthy, unhealthy int) Option {
	return func(c *checker) {
		c.healthyThreshold = healthy
		c.unhealthyThreshold = unhealthy
	}
}

// WithMaxConcurrent 设置并发探测上限
func WithMaxConcurrent(n int) Option {
	return func(c *checker) { c.maxConcurrent = n }
}

// WithClock 注入时钟，供测试使用
func WithClock(clk clock.Clock) Option {
	return func(c *checker) { c.clock = clk }
}

// checker 实现Checker接口
type checker struct {
	mu        sync.RWMutex
	targets   map[string]*target
	listeners []*listenerEntry

	interval           time.Duration
	timeout            time.Duration
	healthyThreshold   int
	unhealthyThreshold int
	maxConcurrent      int

	loopMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	clock  clock.Clock
	logger logging.Logger
}

type listenerEntry struct {
	listener StatusListener
}

// New 创建健康检查器
func New(logger logging.Logger, opts ...Option) Checker {
	c := &checker{
		targets:            make(map[string]*target),
		interval:           10 * time.Second,
		timeout:            3 * time.Second,
		healthyThreshold:   2,
		unhealthyThreshold: 3,
		maxConcurrent:      10,
		clock:              clock.NewReal(),
		logger:             logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register 添加监控目标
func (c *checker) Register(name, host string, port int, opts ...TargetOption) {
	t := &target{
		name:               name,
		host:               host,
		port:               port,
		probe:              TCPProbe{},
		healthyThreshold:   c.healthyThreshold,
		unhealthyThreshold: c.unhealthyThreshold,
		status:             model.HealthStatusUnknown,
	}

	for _, opt := range opts {
		opt(t)
	}

	c.mu.Lock()
	c.targets[name] = t
	c.mu.Unlock()

	c.logger.Info("注册健康检查目标",
		zap.String("service", name),
		zap.String("address", Target{Host: t.host, Port: t.port}.Address()))
}

// Unregister 移除监控目标
func (c *checker) Unregister(name string) {
	c.mu.Lock()
	_, exists := c.targets[name]
	delete(c.targets, name)
	c.mu.Unlock()

	if exists {
		c.logger.Info("移除健康检查目标", zap.String("service", name))
	}
}

// CheckService 同步检查一个目标
func (c *checker) CheckService(ctx context.Context, name string) (*model.HealthCheckResult, error) {
	c.mu.RLock()
	t, exists := c.targets[name]
	c.mu.RUnlock()

	if !exists {
		return nil, ErrTargetNotFound
	}

	return c.checkTarget(ctx, t), nil
}

// CheckAll 并发检查所有目标
func (c *checker) CheckAll(ctx context.Context) map[string]*model.HealthCheckResult {
	c.mu.RLock()
	targets := make([]*target, 0, len(c.targets))
	for _, t := range c.targets {
		targets = append(targets, t)
	}
	c.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		sem      = semaphore.NewWeighted(int64(c.maxConcurrent))
		resultMu sync.Mutex
		results  = make(map[string]*model.HealthCheckResult, len(targets))
	)

	for _, t := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			// 上游取消，剩余目标留到下一轮
			break
		}

		wg.Add(1)

		go func(t *target) {
			defer wg.Done()
			defer sem.Release(1)

			result := c.checkTarget(ctx, t)

			resultMu.Lock()
			results[t.name] = result
			resultMu.Unlock()
		}(t)
	}

	wg.Wait()

	return results
}

// Start 启动后台巡检
func (c *checker) Start() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(ctx, c.done)

	c.logger.Info("健康检查后台巡检启动", zap.Duration("interval", c.interval))
}

// Stop 停止后台巡检并等待当前一轮结束
func (c *checker) Stop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if !c.running {
		return
	}

	c.cancel()
	<-c.done
	c.running = false

	c.logger.Info("健康检查后台巡检停止")
}

// loop 周期执行CheckAll直到被取消
func (c *checker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.CheckAll(ctx)
		}
	}
}

// OnStatusChange 订阅状态变更
func (c *checker) OnStatusChange(listener StatusListener) func() {
	entry := &listenerEntry{listener: listener}

	c.mu.Lock()
	c.listeners = append(c.listeners, entry)
	c.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			for i, e := range c.listeners {
				if e == entry {
					c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)

					break
				}
			}
		})
	}
}

// Target 按名称返回监控目标的端点信息
func (c *checker) Target(name string) (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, exists := c.targets[name]
	if !exists {
		return Target{}, false
	}

	return Target{Name: t.name, Host: t.host, Port: t.port, Path: t.path}, true
}

// Results 返回所有目标的最新结果
func (c *checker) Results() map[string]*model.HealthCheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]*model.HealthCheckResult, len(c.targets))
	for name, t := range c.targets {
		if t.lastResult != nil {
			clone := *t.lastResult

			results[name] = &clone
		}
	}

	return results
}

// GetStats 返回汇总统计
func (c *checker) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Results: make(map[string]*model.HealthCheckResult, len(c.targets))}

	for name, t := range c.targets {
		stats.Total++

		switch t.status {
		case model.HealthStatusHealthy:
			stats.Healthy++
		case model.HealthStatusDegraded:
			stats.Degraded++
		case model.HealthStatusUnhealthy:
			stats.Unhealthy++
		default:
			stats.Unknown++
		}

		if t.lastResult != nil {
			clone := *t.lastResult
			stats.Results[name] = &clone
		}
	}

	return stats
}

// checkTarget 执行一次探测并应用去抖动
func (c *checker) checkTarget(ctx context.Context, t *target) *model.HealthCheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.clock.Now()
	outcome := t.probe.Check(probeCtx, Target{Name: t.name, Host: t.host, Port: t.port, Path: t.path})
	latency := c.clock.Now().Sub(start)

	return c.applyOutcome(t, outcome, latency)
}

// applyOutcome 应用去抖动规则并存储结果。
// 原始探测结果需要连续healthyThreshold次成功才把可见状态翻为健康，
// 连续unhealthyThreshold次失败才翻为不健康，以抑制抖动。
func (c *checker) applyOutcome(t *target, outcome Outcome, latency time.Duration) *model.HealthCheckResult {
	c.mu.Lock()

	success := outcome.Status == model.HealthStatusHealthy

	if success {
		t.consecutiveSuccesses++
		t.consecutiveFailures = 0
	} else {
		t.consecutiveFailures++
		t.consecutiveSuccesses = 0
	}

	old := t.status

	if success && t.consecutiveSuccesses >= t.healthyThreshold {
		t.status = model.HealthStatusHealthy
	} else if !success && t.consecutiveFailures >= t.unhealthyThreshold {
		// 降级和不健康都按失败去抖动，翻转后保留原始区分
		t.status = outcome.Status
	}

	result := &model.HealthCheckResult{
		Name:                 t.name,
		Status:               t.status,
		Latency:              latency,
		Message:              outcome.Message,
		CheckedAt:            c.clock.Now(),
		Details:              outcome.Details,
		ConsecutiveSuccesses: t.consecutiveSuccesses,
		ConsecutiveFailures:  t.consecutiveFailures,
	}
	t.lastResult = result

	changed := t.status != old
	newStatus := t.status

	var listeners []*listenerEntry
	if changed {
		listeners = make([]*listenerEntry, len(c.listeners))
		copy(listeners, c.listeners)
	}
	c.mu.Unlock()

	if changed {
		c.logger.Info("健康检查状态变更",
			zap.String("service", t.name),
			zap.String("old_status", string(old)),
			zap.String("new_status", string(newStatus)),
			zap.String("message", outcome.Message))

		for _, entry := range listeners {
			c.notifyOne(entry, t.name, old, newStatus)
		}
	}

	clone := *result

	return &clone
}

// notifyOne 通知单个监听器，panic不向外传播
func (c *checker) notifyOne(entry *listenerEntry, name string, old, newStatus model.HealthStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("健康状态监听器panic",
				zap.String("service", name),
				zap.Any("panic", rec))
		}
	}()

	entry.listener.OnStatusChange(name, old, newStatus)
}
