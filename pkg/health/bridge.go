package health

import (
	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/pkg/logging"
	"github.com/zhoudengt/hifate-governance/pkg/model"
	"github.com/zhoudengt/hifate-governance/pkg/registry"
)

// BindRegistry 把检查器的状态迁移回写到服务注册表：
// 每当某个目标的可见状态变化，通过注册表的状态更新接口同步对应实例。
// 检查器不直接触碰注册表内部结构。返回退订函数。
func BindRegistry(c Checker, reg registry.Registry, logger logging.Logger) (unsubscribe func()) {
	return c.OnStatusChange(StatusListenerFunc(func(name string, _, newStatus model.HealthStatus) {
		target, exists := c.Target(name)
		if !exists {
			return
		}

		if err := reg.UpdateStatus(name, target.Host, target.Port, instanceStatus(newStatus)); err != nil {
			logger.Debug("健康状态回写注册表失败",
				zap.String("service", name),
				zap.Error(err))
		}
	}))
}

// instanceStatus 把健康检查状态映射为注册表实例状态。
// 降级实例仍可达但不应参与优选，与不健康同等对待。
func instanceStatus(status model.HealthStatus) model.InstanceStatus {
	switch status {
	case model.HealthStatusHealthy:
		return model.InstanceStatusHealthy
	case model.HealthStatusDegraded, model.HealthStatusUnhealthy:
		return model.InstanceStatusUnhealthy
	default:
		return model.InstanceStatusUnknown
	}
}
