package ratelimit

import (
	"fmt"
	"time"
)

// LimitExceededError 表示请求被限流器拒绝，携带建议的等待时长。
// 调用方可以按WaitTime退避后重试。
type LimitExceededError struct {
	Name     string        // 限流器名称
	WaitTime time.Duration // 距离下一次可能放行的时长
}

// Error 实现error接口
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("限流器 %s 触发限流，建议等待 %v 后重试", e.Name, e.WaitTime)
}
