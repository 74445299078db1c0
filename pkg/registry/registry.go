// Package registry 提供进程内的服务注册表：维护逻辑服务名下的实例集合，
// 合并心跳与健康检查产生的状态更新，并按负载均衡策略回答发现请求。
// 状态只存在内存中，进程重启后由各服务重新注册。
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
	"github.com/zhoudengt/hifate-governance/pkg/model"
)

// Registry 定义服务注册表接口
type Registry interface {
	// Register 注册服务实例。同一服务名下地址(host:port)唯一：
	// 重复注册同一地址时原位更新可变字段并返回已有实例，否则新建实例，
	// 初始状态为unknown。
	Register(name, host string, port int, opts ...RegisterOption) *model.ServiceInstance

	// Unregister 注销指定地址的实例，实例不存在时为空操作
	Unregister(name, host string, port int)

	// Discover 为逻辑服务选择一个实例：在健康实例间轮询；
	// 没有健康实例时退回第一个unknown实例；再没有则返回任意实例；
	// 服务名下没有实例时返回ErrServiceNotFound
	Discover(name string) (*model.ServiceInstance, error)

	// DiscoverAll 返回服务名下的全部实例(拷贝)，供自行选择的调用方使用
	DiscoverAll(name string) ([]*model.ServiceInstance, error)

	// Heartbeat 更新实例的最后心跳时间和状态
	Heartbeat(name, host string, port int, healthy bool) error

	// UpdateStatus 显式设置实例状态，仅在状态实际变化时记录并发出事件
	UpdateStatus(name, host string, port int, status model.InstanceStatus) error

	// CheckHealth 巡检一遍注册表，把心跳超时的健康实例降级为不健康，
	// 返回本次降级的实例数。由外部调度器周期调用。
	CheckHealth() int

	// Subscribe 订阅某个服务名下的变更事件，返回退订函数
	Subscribe(service string, listener EventListener) (unsubscribe func())

	// Services 返回所有服务名到实例数的映射
	Services() map[string]int

	// Snapshot 返回整个注册表的实例快照
	Snapshot() map[string][]*model.ServiceInstance
}

// RegisterOption 注册时的可选属性
type RegisterOption func(*model.ServiceInstance)

// WithProtocol 设置协议标识
func WithProtocol(protocol string) RegisterOption {
	return func(inst *model.ServiceInstance) { inst.Protocol = protocol }
}

// WithMetadata 设置实例元数据
func WithMetadata(metadata map[string]string) RegisterOption {
	return func(inst *model.ServiceInstance) { inst.Metadata = metadata }
}

// WithVersion 设置版本号
func WithVersion(version string) RegisterOption {
	return func(inst *model.ServiceInstance) { inst.Version = version }
}

// WithWeight 设置权重
func WithWeight(weight int) RegisterOption {
	return func(inst *model.ServiceInstance) { inst.Weight = weight }
}

// Option 注册表自身的构造选项
type Option func(*serviceRegistry)

// WithHeartbeatTimeout 设置心跳过期阈值，超过该时长未收到心跳的
// 健康实例会在CheckHealth时被降级
func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(r *serviceRegistry) { r.heartbeatTimeout = timeout }
}

// WithClock 注入时钟，供测试使用
func WithClock(clk clock.Clock) Option {
	return func(r *serviceRegistry) { r.clock = clk }
}

// serviceRegistry 实现Registry接口
type serviceRegistry struct {
	mu               sync.RWMutex
	instances        map[string][]*model.ServiceInstance // 服务名 -> 按注册顺序排列的实例
	rrIndex          map[string]int                      // 服务名 -> 轮询游标
	subscriptions    map[string][]*subscription
	heartbeatTimeout time.Duration
	clock            clock.Clock
	logger           logging.Logger
}

// New 创建一个新的服务注册表
func New(logger logging.Logger, opts ...Option) Registry {
	r := &serviceRegistry{
		instances:        make(map[string][]*model.ServiceInstance),
		rrIndex:          make(map[string]int),
		subscriptions:    make(map[string][]*subscription),
		heartbeatTimeout: 90 * time.Second,
		clock:            clock.NewReal(),
		logger:           logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register 注册服务实例
func (r *serviceRegistry) Register(name, host string, port int, opts ...RegisterOption) *model.ServiceInstance {
	incoming := &model.ServiceInstance{
		Name: name,
		Host: host,
		Port: port,
	}
	for _, opt := range opts {
		opt(incoming)
	}

	r.mu.Lock()

	now := r.clock.Now()

	var (
		stored    *model.ServiceInstance
		eventType EventType
	)

	if existing := r.findLocked(name, host, port); existing != nil {
		// 幂等更新：保留ID、注册时间和当前状态，覆盖可变字段
		existing.Protocol = incoming.Protocol
		existing.Metadata = incoming.Metadata
		existing.Version = incoming.Version
		existing.Weight = incoming.Weight
		existing.LastHeartbeat = now

		stored = existing
		eventType = EventUpdate
	} else {
		incoming.ID = uuid.New().String()
		incoming.Status = model.InstanceStatusUnknown
		incoming.RegisteredAt = now
		incoming.LastHeartbeat = now

		r.instances[name] = append(r.instances[name], incoming)

		stored = incoming
		eventType = EventRegister
	}

	snapshot := stored.Clone()
	r.mu.Unlock()

	r.logger.Info("服务实例注册",
		zap.String("service", name),
		zap.String("address", snapshot.Address()),
		zap.String("event", string(eventType)))

	r.notify(Event{Type: eventType, Service: name, Instance: snapshot})

	return snapshot
}

// Unregister 注销服务实例
func (r *serviceRegistry) Unregister(name, host string, port int) {
	r.mu.Lock()

	var removed *model.ServiceInstance

	list := r.instances[name]
	for i, inst := range list {
		if inst.Host == host && inst.Port == port {
			removed = inst
			r.instances[name] = append(list[:i], list[i+1:]...)

			break
		}
	}

	// 最后一个实例注销后移除服务名
	if len(r.instances[name]) == 0 {
		delete(r.instances, name)
		delete(r.rrIndex, name)
	}

	var snapshot *model.ServiceInstance
	if removed != nil {
		snapshot = removed.Clone()
	}
	r.mu.Unlock()

	if snapshot == nil {
		return
	}

	r.logger.Info("服务实例注销",
		zap.String("service", name),
		zap.String("address", snapshot.Address()))

	r.notify(Event{Type: EventDeregister, Service: name, Instance: snapshot})
}

// Discover 发现一个可用实例
func (r *serviceRegistry) Discover(name string) (*model.ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.instances[name]
	if len(list) == 0 {
		return nil, ErrServiceNotFound
	}

	// 优先在健康实例间轮询
	var healthy []*model.ServiceInstance
	for _, inst := range list {
		if inst.Status == model.InstanceStatusHealthy {
			healthy = append(healthy, inst)
		}
	}

	if len(healthy) > 0 {
		idx := r.rrIndex[name] % len(healthy)
		r.rrIndex[name] = idx + 1

		return healthy[idx].Clone(), nil
	}

	// 没有健康实例时退回unknown实例
	for _, inst := range list {
		if inst.Status == model.InstanceStatusUnknown {
			return inst.Clone(), nil
		}
	}

	// 最后返回任意实例，由调用方自行决定是否使用
	return list[0].Clone(), nil
}

// DiscoverAll 返回全部实例
func (r *serviceRegistry) DiscoverAll(name string) ([]*model.ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.instances[name]
	if len(list) == 0 {
		return nil, ErrServiceNotFound
	}

	result := make([]*model.ServiceInstance, 0, len(list))
	for _, inst := range list {
		result = append(result, inst.Clone())
	}

	return result, nil
}

// Heartbeat 更新实例心跳
func (r *serviceRegistry) Heartbeat(name, host string, port int, healthy bool) error {
	status := model.InstanceStatusHealthy
	if !healthy {
		status = model.InstanceStatusUnhealthy
	}

	r.mu.Lock()

	inst := r.findLocked(name, host, port)
	if inst == nil {
		r.mu.Unlock()

		return ErrInstanceNotFound
	}

	inst.LastHeartbeat = r.clock.Now()
	changed := inst.Status != status
	inst.Status = status

	var snapshot *model.ServiceInstance
	if changed {
		snapshot = inst.Clone()
	}
	r.mu.Unlock()

	if changed {
		r.logger.Debug("心跳触发状态变更",
			zap.String("service", name),
			zap.String("address", snapshot.Address()),
			zap.String("status", string(status)))

		r.notify(Event{Type: EventUpdate, Service: name, Instance: snapshot})
	}

	return nil
}

// UpdateStatus 显式设置实例状态
func (r *serviceRegistry) UpdateStatus(name, host string, port int, status model.InstanceStatus) error {
	r.mu.Lock()

	inst := r.findLocked(name, host, port)
	if inst == nil {
		r.mu.Unlock()

		return ErrInstanceNotFound
	}

	// 状态未变化时不记录也不发事件
	if inst.Status == status {
		r.mu.Unlock()

		return nil
	}

	old := inst.Status
	inst.Status = status
	snapshot := inst.Clone()
	r.mu.Unlock()

	r.logger.Info("服务实例状态变更",
		zap.String("service", name),
		zap.String("address", snapshot.Address()),
		zap.String("old_status", string(old)),
		zap.String("new_status", string(status)))

	r.notify(Event{Type: EventUpdate, Service: name, Instance: snapshot})

	return nil
}

// CheckHealth 降级心跳超时的实例
func (r *serviceRegistry) CheckHealth() int {
	r.mu.Lock()

	now := r.clock.Now()

	var demoted []*model.ServiceInstance
	for _, list := range r.instances {
		for _, inst := range list {
			if inst.Status == model.InstanceStatusHealthy &&
				now.Sub(inst.LastHeartbeat) > r.heartbeatTimeout {
				inst.Status = model.InstanceStatusUnhealthy
				demoted = append(demoted, inst.Clone())
			}
		}
	}
	r.mu.Unlock()

	for _, snapshot := range demoted {
		r.logger.Warn("实例心跳超时，降级为不健康",
			zap.String("service", snapshot.Name),
			zap.String("address", snapshot.Address()),
			zap.Time("last_heartbeat", snapshot.LastHeartbeat))

		r.notify(Event{Type: EventUpdate, Service: snapshot.Name, Instance: snapshot})
	}

	return len(demoted)
}

// Subscribe 订阅服务变更事件
func (r *serviceRegistry) Subscribe(service string, listener EventListener) func() {
	sub := &subscription{service: service, listener: listener}

	r.mu.Lock()
	r.subscriptions[service] = append(r.subscriptions[service], sub)
	r.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			subs := r.subscriptions[service]
			for i, s := range subs {
				if s == sub {
					r.subscriptions[service] = append(subs[:i], subs[i+1:]...)

					break
				}
			}
			if len(r.subscriptions[service]) == 0 {
				delete(r.subscriptions, service)
			}
		})
	}
}

// Services 返回服务名到实例数的映射
func (r *serviceRegistry) Services() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]int, len(r.instances))
	for name, list := range r.instances {
		result[name] = len(list)
	}

	return result
}

// Snapshot 返回整个注册表的实例快照
func (r *serviceRegistry) Snapshot() map[string][]*model.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]*model.ServiceInstance, len(r.instances))
	for name, list := range r.instances {
		copies := make([]*model.ServiceInstance, 0, len(list))
		for _, inst := range list {
			copies = append(copies, inst.Clone())
		}
		result[name] = copies
	}

	return result
}

// findLocked 在持锁状态下按地址查找实例
func (r *serviceRegistry) findLocked(name, host string, port int) *model.ServiceInstance {
	for _, inst := range r.instances[name] {
		if inst.Host == host && inst.Port == port {
			return inst
		}
	}

	return nil
}

// notify 同步通知监听器，监听器panic不会中断触发操作
func (r *serviceRegistry) notify(event Event) {
	r.mu.RLock()
	subs := make([]*subscription, len(r.subscriptions[event.Service]))
	copy(subs, r.subscriptions[event.Service])
	r.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("服务事件监听器panic",
						zap.String("service", event.Service),
						zap.Any("panic", rec))
				}
			}()

			sub.listener.OnServiceEvent(event)
		}()
	}
}
