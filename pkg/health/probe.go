// Package health 持续且独立地评估被依赖服务的存活状态：
// 可插拔的探测策略、去抖动的状态判定、有界并发的全量巡检，
// 以及把状态迁移回写到服务注册表的桥接。
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/zhoudengt/hifate-governance/pkg/model"
)

// Target 描述一次探测的目标端点
type Target struct {
	Name string // 被监控服务名称
	Host string
	Port int
	Path string // 应用层健康检查路径，仅HTTP探测使用
}

// Address 返回目标地址(host:port)
func (t Target) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Outcome 单次探测的原始结果，去抖动前的状态由Checker处理
type Outcome struct {
	Status  model.HealthStatus
	Message string
	Details map[string]string
}

// Probe 定义探测策略。实现必须在ctx到期前返回，探测失败
// 以Outcome表达，不作为error向上传播。
type Probe interface {
	Check(ctx context.Context, target Target) Outcome
}

// ProbeFunc 将函数适配为Probe，用于调用方自定义探测
type ProbeFunc func(ctx context.Context, target Target) Outcome

// Check 实现Probe
func (f ProbeFunc) Check(ctx context.Context, target Target) Outcome {
	return f(ctx, target)
}

// TCPProbe 连通性探测：在超时内建立连接即视为健康
type TCPProbe struct{}

// Check 实现Probe
func (TCPProbe) Check(ctx context.Context, target Target) Outcome {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return Outcome{
			Status:  model.HealthStatusUnhealthy,
			Message: fmt.Sprintf("TCP连接失败: %v", err),
		}
	}
	conn.Close()

	return Outcome{Status: model.HealthStatusHealthy}
}

// HTTPProbe 应用层探测：对健康路径发起GET，2xx为健康，
// 可达但返回其他状态码为降级，连接失败为不健康。
type HTTPProbe struct {
	// Client 为nil时使用默认客户端，超时由ctx控制
	Client *http.Client
}

// Check 实现Probe
func (p HTTPProbe) Check(ctx context.Context, target Target) Outcome {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	path := target.Path
	if path == "" {
		path = "/health"
	}

	url := fmt.Sprintf("http://%s%s", target.Address(), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{
			Status:  model.HealthStatusUnhealthy,
			Message: fmt.Sprintf("构造健康检查请求失败: %v", err),
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return Outcome{
			Status:  model.HealthStatusUnhealthy,
			Message: fmt.Sprintf("健康检查请求失败: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Outcome{
			Status:  model.HealthStatusHealthy,
			Details: map[string]string{"status_code": fmt.Sprintf("%d", resp.StatusCode)},
		}
	}

	// 服务可达但响应异常，视为降级
	return Outcome{
		Status:  model.HealthStatusDegraded,
		Message: fmt.Sprintf("健康检查返回非预期状态码: %d", resp.StatusCode),
		Details: map[string]string{"status_code": fmt.Sprintf("%d", resp.StatusCode)},
	}
}

// GRPCProbe RPC健康探测：调用标准gRPC健康检查接口，
// SERVING为健康；目标未实现健康接口时退回连通性探测。
type GRPCProbe struct{}

// Check 实现Probe
func (p GRPCProbe) Check(ctx context.Context, target Target) Outcome {
	conn, err := grpc.NewClient(target.Address(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Outcome{
			Status:  model.HealthStatusUnhealthy,
			Message: fmt.Sprintf("建立gRPC连接失败: %v", err),
		}
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		// 健康接口未实现时退回TCP探测
		if status.Code(err) == codes.Unimplemented {
			return TCPProbe{}.Check(ctx, target)
		}

		return Outcome{
			Status:  model.HealthStatusUnhealthy,
			Message: fmt.Sprintf("gRPC健康检查失败: %v", err),
		}
	}

	if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
		return Outcome{Status: model.HealthStatusHealthy}
	}

	return Outcome{
		Status:  model.HealthStatusUnhealthy,
		Message: fmt.Sprintf("gRPC健康检查状态: %s", resp.GetStatus()),
	}
}

// ProbeKind 内置探测策略种类
type ProbeKind string

const (
	// ProbeTCP 连通性探测
	ProbeTCP ProbeKind = "tcp"
	// ProbeHTTP 应用层探测
	ProbeHTTP ProbeKind = "http"
	// ProbeGRPC RPC健康探测
	ProbeGRPC ProbeKind = "grpc"
)

// probeForKind 按种类返回内置探测策略
func probeForKind(kind ProbeKind) Probe {
	switch kind {
	case ProbeHTTP:
		return HTTPProbe{}
	case ProbeGRPC:
		return GRPCProbe{}
	default:
		return TCPProbe{}
	}
}

// 保证探测实现满足接口
var (
	_ Probe = TCPProbe{}
	_ Probe = HTTPProbe{}
	_ Probe = GRPCProbe{}
	_ Probe = ProbeFunc(nil)
)
