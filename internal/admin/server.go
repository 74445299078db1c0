// Package admin 提供治理核心对外的管理API：只读的观测端点，
// 以及重置熔断器、强制健康检查两个幂等的控制端点。
package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/internal/admin/handler"
	"github.com/zhoudengt/hifate-governance/internal/config"
	"github.com/zhoudengt/hifate-governance/pkg/breaker"
	"github.com/zhoudengt/hifate-governance/pkg/health"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
	"github.com/zhoudengt/hifate-governance/pkg/ratelimit"
	"github.com/zhoudengt/hifate-governance/pkg/registry"
)

// Server 表示管理API服务
type Server struct {
	e      *echo.Echo
	host   string
	port   int
	logger logging.Logger
}

// NewServer 创建一个新的管理API服务
func NewServer(cfg *config.Config, logger logging.Logger,
	reg registry.Registry, breakers breaker.Manager,
	limiters ratelimit.Manager, checker health.Checker) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true

	// 添加中间件
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORS())

	// 管理进程自身的存活探针
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// 注册治理路由
	governanceHandler := handler.NewGovernanceHandler(reg, breakers, limiters, checker)
	governanceHandler.RegisterRoutes(e)

	return &Server{
		e:      e,
		host:   cfg.Admin.ListenAddress,
		port:   cfg.Admin.Port,
		logger: logger,
	}
}

// Start 启动管理API服务（非阻塞）
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.logger.Info("启动管理API服务", zap.String("address", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("管理API服务启动失败", zap.Error(err))
		}
	}()
}

// Shutdown 优雅关闭管理API服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("关闭管理API服务")

	if err := s.e.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭管理API服务失败: %w", err)
	}

	return nil
}
