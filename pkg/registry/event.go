package registry

import "github.com/zhoudengt/hifate-governance/pkg/model"

// EventType 表示注册表变更事件类型
type EventType string

const (
	// EventRegister 实例注册
	EventRegister EventType = "register"
	// EventUpdate 实例状态或属性变更
	EventUpdate EventType = "update"
	// EventDeregister 实例注销
	EventDeregister EventType = "deregister"
)

// Event 表示一次注册表变更
type Event struct {
	Type     EventType              `json:"type"`
	Service  string                 `json:"service"`
	Instance *model.ServiceInstance `json:"instance"`
}

// EventListener 接收某个服务名下的变更事件。
// 监听器在触发操作的调用方协程中同步执行，panic会被捕获并记录，
// 不会中断触发它的注册表操作。
type EventListener interface {
	OnServiceEvent(event Event)
}

// EventListenerFunc 将函数适配为EventListener
type EventListenerFunc func(event Event)

// OnServiceEvent 实现EventListener
func (f EventListenerFunc) OnServiceEvent(event Event) {
	f(event)
}

// subscription 是一条可显式退订的监听记录
type subscription struct {
	service  string
	listener EventListener
}
