package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhoudengt/hifate-governance/pkg/clock/clocktest"
	"github.com/zhoudengt/hifate-governance/pkg/logging"
)

func newTestBreaker(t *testing.T, config Config) (*CircuitBreaker, clocktest.FakeClock) {
	t.Helper()

	clk := clocktest.NewFakeClock()

	return New("test-service", config, logging.NewNopLogger(), clk), clk
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 3})

	// 初始状态为关闭且放行
	assert.Equal(t, StateClosed, cb.State(), "初始状态应为closed")
	assert.True(t, cb.Allow(), "关闭状态应放行请求")

	// 达到连续失败阈值前保持关闭
	cb.RecordFailure(errors.New("下游错误"))
	cb.RecordFailure(errors.New("下游错误"))
	assert.Equal(t, StateClosed, cb.State(), "未达到阈值不应打开")

	// 恰好达到阈值后打开
	cb.RecordFailure(errors.New("下游错误"))
	assert.Equal(t, StateOpen, cb.State(), "达到连续失败阈值应打开")
	assert.False(t, cb.Allow(), "打开状态应拒绝请求")

	stats := cb.Stats()
	assert.Equal(t, uint64(3), stats.TotalFailures, "失败计数应为3")
	assert.Equal(t, uint64(1), stats.RejectedCalls, "拒绝计数应为1")
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 3})

	cb.RecordFailure(errors.New("下游错误"))
	cb.RecordFailure(errors.New("下游错误"))
	cb.RecordSuccess()
	cb.RecordFailure(errors.New("下游错误"))
	cb.RecordFailure(errors.New("下游错误"))

	// 中间的成功打断了连续失败
	assert.Equal(t, StateClosed, cb.State(), "成功后连续失败应重新累计")
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb, clk := newTestBreaker(t, Config{
		FailureThreshold: 1,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 2,
	})

	cb.RecordFailure(errors.New("下游错误"))
	require.Equal(t, StateOpen, cb.State(), "失败后应打开")
	require.False(t, cb.Allow(), "打开状态应拒绝")

	// 超时未到，仍然打开
	clk.Advance(9 * time.Second)
	assert.False(t, cb.Allow(), "超时前应保持拒绝")

	// 超时后惰性迁移到半开，并受探测配额限制
	clk.Advance(1 * time.Second)
	assert.True(t, cb.Allow(), "超时后第一个请求应放行")
	assert.Equal(t, StateHalfOpen, cb.State(), "超时后应处于半开")
	assert.True(t, cb.Allow(), "配额内第二个请求应放行")
	assert.False(t, cb.Allow(), "超出半开配额应拒绝")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(t, Config{
		FailureThreshold: 1,
		SuccessThreshold: 3,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 5,
	})

	cb.RecordFailure(errors.New("下游错误"))
	clk.Advance(10 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State(), "超时后应处于半开")

	// 半开状态下已有成功也挡不住单次失败
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure(errors.New("下游错误"))

	assert.Equal(t, StateOpen, cb.State(), "半开状态单次失败应立即回到打开")
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	cb, clk := newTestBreaker(t, Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 5,
	})

	cb.RecordFailure(errors.New("下游错误"))
	clk.Advance(10 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State(), "超时后应处于半开")

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State(), "未达到成功阈值应保持半开")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State(), "达到成功阈值应关闭")

	counts := cb.Counts()
	assert.Zero(t, counts.ConsecutiveFailures, "关闭后失败计数应清零")
	assert.Zero(t, counts.ConsecutiveSuccesses, "关闭后成功计数应清零")
}

func TestBreakerExcludedErrors(t *testing.T) {
	errNotFound := errors.New("记录不存在")

	cb, _ := newTestBreaker(t, Config{
		FailureThreshold: 2,
		ExcludedErrors:   []error{errNotFound},
	})

	// 排除的业务错误按成功记账
	cb.RecordFailure(errNotFound)
	cb.RecordFailure(errNotFound)
	cb.RecordFailure(errNotFound)
	assert.Equal(t, StateClosed, cb.State(), "排除的错误不应触发熔断")

	stats := cb.Stats()
	assert.Equal(t, uint64(3), stats.TotalSuccesses, "排除的错误应计入成功")
	assert.Zero(t, stats.TotalFailures, "排除的错误不应计入失败")

	// 包装后的排除错误同样生效
	cb.RecordFailure(errors.Join(errors.New("调用失败"), errNotFound))
	assert.Equal(t, StateClosed, cb.State(), "包装后的排除错误不应触发熔断")
}

func TestBreakerResetPreservesStats(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 2})

	cb.RecordSuccess()
	cb.RecordFailure(errors.New("下游错误"))
	cb.RecordFailure(errors.New("下游错误"))
	require.Equal(t, StateOpen, cb.State(), "达到阈值应打开")
	require.False(t, cb.Allow(), "打开状态应拒绝")

	before := cb.Stats()

	cb.Reset()

	assert.Equal(t, StateClosed, cb.State(), "重置后应关闭")
	assert.True(t, cb.Allow(), "重置后应放行")

	counts := cb.Counts()
	assert.Zero(t, counts.ConsecutiveFailures, "重置应清零瞬时失败计数")
	assert.Zero(t, counts.HalfOpenCalls, "重置应清零半开计数")

	after := cb.Stats()
	assert.Equal(t, before.TotalCalls, after.TotalCalls, "重置不应清零总调用数")
	assert.Equal(t, before.TotalFailures, after.TotalFailures, "重置不应清零失败统计")
	assert.Equal(t, before.RejectedCalls, after.RejectedCalls, "重置不应清零拒绝统计")
}

func TestBreakerExecute(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{FailureThreshold: 1})

	// 成功路径返回结果
	result, err := cb.Execute(func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err, "成功调用不应返回错误")
	assert.Equal(t, "ok", result, "应返回操作结果")

	// 失败路径原样返回下游错误
	errDownstream := errors.New("下游错误")
	_, err = cb.Execute(func() (any, error) {
		return nil, errDownstream
	})
	assert.ErrorIs(t, err, errDownstream, "下游错误应原样返回")

	// 熔断后返回可区分的OpenError
	_, err = cb.Execute(func() (any, error) {
		t.Fatal("熔断打开后不应执行操作")

		return nil, nil
	})

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr, "拒绝时应返回OpenError")
	assert.Equal(t, "test-service", openErr.Name, "错误应携带熔断器名称")
}

func TestBreakerEndToEndScenario(t *testing.T) {
	// 完整场景：failureThreshold=2, openTimeout=10s, successThreshold=1
	cb, clk := newTestBreaker(t, Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 3,
	})

	cb.RecordFailure(errors.New("下游错误"))
	cb.RecordFailure(errors.New("下游错误"))
	require.Equal(t, StateOpen, cb.State(), "两次失败后应打开")
	require.False(t, cb.Allow(), "打开状态应拒绝")

	clk.Advance(10 * time.Second)
	require.True(t, cb.Allow(), "超时后应放行探测请求")
	require.Equal(t, StateHalfOpen, cb.State(), "超时后应处于半开")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State(), "一次成功后应关闭")
}
