package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhoudengt/hifate-governance/pkg/breaker"
	"github.com/zhoudengt/hifate-governance/pkg/health"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
	"github.com/zhoudengt/hifate-governance/pkg/model"
	"github.com/zhoudengt/hifate-governance/pkg/ratelimit"
	"github.com/zhoudengt/hifate-governance/pkg/registry"
)

// testEnv 组装一套真实的治理组件供路由测试使用
type testEnv struct {
	e        *echo.Echo
	registry registry.Registry
	breakers breaker.Manager
	limiters ratelimit.Manager
	checker  health.Checker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.NewNopLogger()

	env := &testEnv{
		e:        echo.New(),
		registry: registry.New(logger),
		breakers: breaker.NewManager(logger, nil),
		limiters: ratelimit.NewManager(logger, nil),
		checker:  health.New(logger, health.WithThresholds(1, 1)),
	}

	NewGovernanceHandler(env.registry, env.breakers, env.limiters, env.checker).RegisterRoutes(env.e)

	return env
}

func (env *testEnv) request(t *testing.T, method, path string) (*httptest.ResponseRecorder, ApiResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "响应应为合法JSON")

	return rec, resp
}

func TestListServices(t *testing.T) {
	env := newTestEnv(t)

	env.registry.Register("calc", "10.0.0.1", 8080)
	env.registry.Register("calc", "10.0.0.2", 8080)
	env.registry.Register("rule", "10.0.0.3", 8080)

	rec, resp := env.request(t, http.MethodGet, "/api/v1/services")

	assert.Equal(t, http.StatusOK, rec.Code, "查询应返回200")
	assert.Equal(t, http.StatusOK, resp.Code, "响应码应为200")

	data := resp.Data.(map[string]interface{})
	services := data["services"].(map[string]interface{})
	assert.Equal(t, float64(2), services["calc"], "calc应有2个实例")
	assert.Equal(t, float64(1), services["rule"], "rule应有1个实例")
}

func TestGetService(t *testing.T) {
	env := newTestEnv(t)

	env.registry.Register("calc", "10.0.0.1", 8080, registry.WithVersion("1.0.0"))

	rec, resp := env.request(t, http.MethodGet, "/api/v1/services/calc")
	assert.Equal(t, http.StatusOK, rec.Code, "存在的服务应返回200")

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "calc", data["name"], "应返回服务名")

	instances := data["instances"].([]interface{})
	require.Len(t, instances, 1, "应返回实例列表")

	inst := instances[0].(map[string]interface{})
	assert.Equal(t, "10.0.0.1", inst["host"], "实例应包含主机")
	assert.Equal(t, "1.0.0", inst["version"], "实例应包含版本")
}

func TestGetServiceNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodGet, "/api/v1/services/missing")

	assert.Equal(t, http.StatusNotFound, rec.Code, "不存在的服务应返回404")
	assert.Equal(t, http.StatusNotFound, resp.Code, "响应码应为404")
	assert.Contains(t, resp.Message, "missing", "错误信息应包含服务名")
}

func TestListBreakers(t *testing.T) {
	env := newTestEnv(t)

	cb := env.breakers.GetOrCreate("downstream", breaker.Config{FailureThreshold: 2})
	cb.RecordFailure(assert.AnError)
	cb.RecordFailure(assert.AnError)

	rec, resp := env.request(t, http.MethodGet, "/api/v1/breakers")
	assert.Equal(t, http.StatusOK, rec.Code, "查询应返回200")

	data := resp.Data.(map[string]interface{})
	breakers := data["breakers"].(map[string]interface{})
	require.Contains(t, breakers, "downstream", "快照应包含熔断器")

	info := breakers["downstream"].(map[string]interface{})
	assert.Equal(t, "open", info["state"], "应反映熔断器当前状态")
}

func TestResetBreaker(t *testing.T) {
	env := newTestEnv(t)

	cb := env.breakers.GetOrCreate("downstream", breaker.Config{FailureThreshold: 1})
	cb.RecordFailure(assert.AnError)
	require.Equal(t, breaker.StateOpen, cb.State(), "熔断器应处于打开状态")

	rec, _ := env.request(t, http.MethodPost, "/api/v1/breakers/downstream/reset")
	assert.Equal(t, http.StatusOK, rec.Code, "重置应返回200")
	assert.Equal(t, breaker.StateClosed, cb.State(), "重置后应为关闭状态")

	// 重复重置为幂等操作
	rec, _ = env.request(t, http.MethodPost, "/api/v1/breakers/downstream/reset")
	assert.Equal(t, http.StatusOK, rec.Code, "重复重置应返回200")
}

func TestResetBreakerNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodPost, "/api/v1/breakers/missing/reset")
	assert.Equal(t, http.StatusNotFound, rec.Code, "不存在的熔断器应返回404")
}

func TestListLimiters(t *testing.T) {
	env := newTestEnv(t)

	l, err := env.limiters.GetOrCreate("api", ratelimit.Config{
		Algorithm: ratelimit.AlgorithmTokenBucket,
		Capacity:  1,
		Rate:      1,
	})
	require.NoError(t, err, "创建限流器不应失败")

	l.Allow("user-1")
	l.Allow("user-1")

	rec, resp := env.request(t, http.MethodGet, "/api/v1/limiters")
	assert.Equal(t, http.StatusOK, rec.Code, "查询应返回200")

	data := resp.Data.(map[string]interface{})
	limiters := data["limiters"].(map[string]interface{})
	require.Contains(t, limiters, "api", "快照应包含限流器")

	info := limiters["api"].(map[string]interface{})
	assert.Equal(t, "token_bucket", info["algorithm"], "应反映限流算法")
}

func TestHealthSummaryAndDetail(t *testing.T) {
	env := newTestEnv(t)

	env.checker.Register("calc", "10.0.0.1", 8080,
		health.WithProbe(health.ProbeFunc(func(context.Context, health.Target) health.Outcome {
			return health.Outcome{Status: model.HealthStatusHealthy}
		})))

	_, err := env.checker.CheckService(context.Background(), "calc")
	require.NoError(t, err, "检查不应失败")

	rec, resp := env.request(t, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code, "汇总应返回200")

	summary := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), summary["total"], "汇总应包含总数")
	assert.Equal(t, float64(1), summary["healthy"], "汇总应包含健康数")

	rec, resp = env.request(t, http.MethodGet, "/api/v1/health/calc")
	assert.Equal(t, http.StatusOK, rec.Code, "详情应返回200")

	detail := resp.Data.(map[string]interface{})
	assert.Equal(t, "healthy", detail["status"], "详情应包含状态")
}

func TestHealthDetailNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodGet, "/api/v1/health/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code, "未注册的目标应返回404")
}

func TestHealthDetailRegisteredButUnchecked(t *testing.T) {
	env := newTestEnv(t)

	env.checker.Register("calc", "10.0.0.1", 8080)

	// 已注册但从未检查：返回unknown而不是与未注册混同的404
	rec, resp := env.request(t, http.MethodGet, "/api/v1/health/calc")
	assert.Equal(t, http.StatusOK, rec.Code, "已注册的目标应返回200")

	detail := resp.Data.(map[string]interface{})
	assert.Equal(t, "unknown", detail["status"], "未检查的目标状态应为unknown")
	assert.Equal(t, "calc", detail["name"], "应返回目标名称")
}

func TestForceCheck(t *testing.T) {
	env := newTestEnv(t)

	env.checker.Register("calc", "10.0.0.1", 8080,
		health.WithProbe(health.ProbeFunc(func(context.Context, health.Target) health.Outcome {
			return health.Outcome{Status: model.HealthStatusHealthy}
		})))

	rec, resp := env.request(t, http.MethodPost, "/api/v1/health/calc/check")
	assert.Equal(t, http.StatusOK, rec.Code, "强制检查应返回200")

	result := resp.Data.(map[string]interface{})
	assert.Equal(t, "healthy", result["status"], "应返回本次检查结果")

	rec, _ = env.request(t, http.MethodPost, "/api/v1/health/missing/check")
	assert.Equal(t, http.StatusNotFound, rec.Code, "不存在的目标应返回404")
}

// 心跳超时对实例状态的影响通过注册表包测试覆盖，此处仅验证路由层透传
func TestGetServiceReflectsHeartbeat(t *testing.T) {
	env := newTestEnv(t)

	env.registry.Register("calc", "10.0.0.1", 8080)
	require.NoError(t, env.registry.Heartbeat("calc", "10.0.0.1", 8080, true), "心跳不应失败")

	_, resp := env.request(t, http.MethodGet, "/api/v1/services/calc")

	data := resp.Data.(map[string]interface{})
	instances := data["instances"].([]interface{})
	inst := instances[0].(map[string]interface{})
	assert.Equal(t, "healthy", inst["status"], "心跳后的状态应透出到API")
}
