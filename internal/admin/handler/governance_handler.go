package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zhoudengt/hifate-governance/pkg/breaker"
	"github.com/zhoudengt/hifate-governance/pkg/health"
	"github.com/zhoudengt/hifate-governance/pkg/model"
	"github.com/zhoudengt/hifate-governance/pkg/ratelimit"
	"github.com/zhoudengt/hifate-governance/pkg/registry"
)

// ApiResponse 统一的API响应结构
type ApiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// GovernanceHandler 处理治理核心的管理与观测请求
type GovernanceHandler struct {
	registry registry.Registry
	breakers breaker.Manager
	limiters ratelimit.Manager
	checker  health.Checker
}

// NewGovernanceHandler 创建一个新的治理管理处理器
func NewGovernanceHandler(reg registry.Registry, breakers breaker.Manager, limiters ratelimit.Manager, checker health.Checker) *GovernanceHandler {
	return &GovernanceHandler{
		registry: reg,
		breakers: breakers,
		limiters: limiters,
		checker:  checker,
	}
}

// RegisterRoutes 注册API路由
func (h *GovernanceHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	// 注册表
	api.GET("/services", h.listServices)
	api.GET("/services/:name", h.getService)

	// 熔断器
	api.GET("/breakers", h.listBreakers)
	api.POST("/breakers/:name/reset", h.resetBreaker)

	// 限流器
	api.GET("/limiters", h.listLimiters)

	// 健康检查
	api.GET("/health", h.healthSummary)
	api.GET("/health/:name", h.healthDetail)
	api.POST("/health/:name/check", h.forceCheck)
}

// 返回成功响应
func successResponse(code int, message string, data interface{}) *ApiResponse {
	return &ApiResponse{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// 返回错误响应
func errorResponse(code int, message string) *ApiResponse {
	return &ApiResponse{
		Code:    code,
		Message: message,
	}
}

// listServices 处理查询服务列表请求
func (h *GovernanceHandler) listServices(c echo.Context) error {
	data := map[string]interface{}{
		"services": h.registry.Services(),
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// getService 处理查询单个服务实例列表请求
func (h *GovernanceHandler) getService(c echo.Context) error {
	name := c.Param("name")

	instances, err := h.registry.DiscoverAll(name)
	if err != nil {
		if errors.Is(err, registry.ErrServiceNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "服务不存在: "+name))
		}

		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "查询服务失败: "+err.Error()))
	}

	data := map[string]interface{}{
		"name":      name,
		"instances": instances,
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// listBreakers 处理查询熔断器列表请求
func (h *GovernanceHandler) listBreakers(c echo.Context) error {
	data := map[string]interface{}{
		"breakers": h.breakers.Snapshot(),
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// resetBreaker 处理重置熔断器请求，幂等操作
func (h *GovernanceHandler) resetBreaker(c echo.Context) error {
	name := c.Param("name")

	if h.breakers.Get(name) == nil {
		return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "熔断器不存在: "+name))
	}

	h.breakers.Reset(name)

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "重置成功", nil))
}

// listLimiters 处理查询限流器列表请求
func (h *GovernanceHandler) listLimiters(c echo.Context) error {
	data := map[string]interface{}{
		"limiters": h.limiters.Snapshot(),
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", data))
}

// healthSummary 处理查询健康检查汇总请求
func (h *GovernanceHandler) healthSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", h.checker.GetStats()))
}

// healthDetail 处理查询单个目标健康详情请求。
// 已注册但尚未检查的目标返回unknown状态，与未注册的目标区分开。
func (h *GovernanceHandler) healthDetail(c echo.Context) error {
	name := c.Param("name")

	result, exists := h.checker.Results()[name]
	if !exists {
		if _, registered := h.checker.Target(name); !registered {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "监控目标不存在: "+name))
		}

		result = &model.HealthCheckResult{
			Name:    name,
			Status:  model.HealthStatusUnknown,
			Message: "尚未检查",
		}
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "查询成功", result))
}

// forceCheck 处理立即检查单个目标请求，幂等操作
func (h *GovernanceHandler) forceCheck(c echo.Context) error {
	name := c.Param("name")

	result, err := h.checker.CheckService(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, health.ErrTargetNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse(http.StatusNotFound, "监控目标不存在: "+name))
		}

		return c.JSON(http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "检查失败: "+err.Error()))
	}

	return c.JSON(http.StatusOK, successResponse(http.StatusOK, "检查完成", result))
}
