package model

import (
	"fmt"
	"time"
)

// InstanceStatus 表示服务实例的状态
type InstanceStatus string

const (
	// InstanceStatusUnknown 未知状态（刚注册、尚未通过健康检查）
	InstanceStatusUnknown InstanceStatus = "unknown"
	// InstanceStatusHealthy 健康状态
	InstanceStatusHealthy InstanceStatus = "healthy"
	// InstanceStatusUnhealthy 不健康状态
	InstanceStatusUnhealthy InstanceStatus = "unhealthy"
	// InstanceStatusStarting 启动中
	InstanceStatusStarting InstanceStatus = "starting"
	// InstanceStatusStopping 停止中
	InstanceStatusStopping InstanceStatus = "stopping"
)

// ServiceInstance 表示一个服务实例（逻辑服务的一个网络端点）
type ServiceInstance struct {
	ID            string            `json:"id"`             // 实例唯一ID
	Name          string            `json:"name"`           // 逻辑服务名称
	Host          string            `json:"host"`           // 服务主机地址
	Port          int               `json:"port"`           // 服务端口
	Protocol      string            `json:"protocol"`       // 协议标识(http/grpc等)
	Status        InstanceStatus    `json:"status"`         // 实例状态
	Version       string            `json:"version"`        // 版本号
	Weight        int               `json:"weight"`         // 权重(预留给加权选择)
	Metadata      map[string]string `json:"metadata"`       // 实例元数据
	RegisteredAt  time.Time         `json:"registered_at"`  // 注册时间
	LastHeartbeat time.Time         `json:"last_heartbeat"` // 最后心跳时间
}

// Address 返回实例的地址键(host:port)，同一服务名下地址唯一
func (s *ServiceInstance) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Clone 返回实例的深拷贝，避免调用方持有注册表内部对象的引用
func (s *ServiceInstance) Clone() *ServiceInstance {
	if s == nil {
		return nil
	}

	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}
