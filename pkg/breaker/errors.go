package breaker

import "fmt"

// OpenError 表示请求被熔断器拒绝（处于打开状态或半开探测配额用尽）。
// 它与下游调用自身的失败可区分，调用方据此跳过重试。
type OpenError struct {
	Name string // 熔断器名称
}

// Error 实现error接口
func (e *OpenError) Error() string {
	return fmt.Sprintf("熔断器 %s 已打开，请求被拒绝", e.Name)
}
