package model

import "time"

// HealthStatus 表示健康检查得出的状态
type HealthStatus string

const (
	// HealthStatusUnknown 未知状态
	HealthStatusUnknown HealthStatus = "unknown"
	// HealthStatusHealthy 健康状态
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded 降级状态(可达但响应异常)
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy 不健康状态
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult 表示对一个被监控依赖的最新检查结果
type HealthCheckResult struct {
	Name                 string            `json:"name"`                  // 被监控服务名称
	Status               HealthStatus      `json:"status"`                // 检查得出的状态
	Latency              time.Duration     `json:"latency"`               // 本次探测耗时
	Message              string            `json:"message"`               // 附加说明(失败原因等)
	CheckedAt            time.Time         `json:"checked_at"`            // 检查时间
	Details              map[string]string `json:"details,omitempty"`     // 附加细节
	ConsecutiveSuccesses int               `json:"consecutive_successes"` // 连续成功次数
	ConsecutiveFailures  int               `json:"consecutive_failures"`  // 连续失败次数
}
