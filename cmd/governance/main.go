package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zhoudengt/hifate-governance/internal/admin"
	"github.com/zhoudengt/hifate-governance/internal/config"
	"github.com/zhoudengt/hifate-governance/pkg/breaker"
	"github.com/zhoudengt/hifate-governance/pkg/health"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
	"github.com/zhoudengt/hifate-governance/pkg/ratelimit"
	"github.com/zhoudengt/hifate-governance/pkg/registry"
)

var configFile string

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	appConfig, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := logging.NewLogger(appConfig.Log.Level, appConfig.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 打印启动信息
	logger.Info("Governance Core Starting...",
		zap.String("version", "0.1.0"),
		zap.Int("admin_port", appConfig.Admin.Port),
		zap.Duration("heartbeat_timeout", appConfig.Registry.HeartbeatTimeout),
		zap.Duration("health_interval", appConfig.Health.Interval),
	)

	// 组装治理组件：各组件由此处持有并传递，不使用包级全局状态
	reg := registry.New(logger,
		registry.WithHeartbeatTimeout(appConfig.Registry.HeartbeatTimeout))

	breakers := breaker.NewManager(logger, nil)
	limiters := ratelimit.NewManager(logger, nil)

	checker := health.New(logger,
		health.WithInterval(appConfig.Health.Interval),
		health.WithTimeout(appConfig.Health.Timeout),
		health.WithThresholds(appConfig.Health.HealthyThreshold, appConfig.Health.UnhealthyThreshold),
		health.WithMaxConcurrent(appConfig.Health.MaxConcurrent),
	)

	// 健康检查状态回写注册表
	unbind := health.BindRegistry(checker, reg, logger)
	defer unbind()

	// 启动后台巡检
	checker.Start()

	// 启动管理API
	adminServer := admin.NewServer(appConfig, logger, reg, breakers, limiters, checker)
	adminServer.Start()

	// 周期巡检注册表，降级心跳超时的实例
	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(appConfig.Registry.HeartbeatTimeout / 3)
		defer ticker.Stop()

		for {
			select {
			case <-sweeperCtx.Done():
				return
			case <-ticker.C:
				if demoted := reg.CheckHealth(); demoted > 0 {
					logger.Warn("注册表巡检降级实例", zap.Int("count", demoted))
				}
			}
		}
	}()

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")

	// 先停后台任务，再关管理API
	stopSweeper()
	checker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("管理API关闭失败", zap.Error(err))
	}

	logger.Info("治理核心已退出")
}
