package ratelimit

import (
	"sync"
	"time"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
)

// windowState 单个键的固定窗口状态
type windowState struct {
	index int64 // 当前窗口编号 floor(now/W)
	count int   // 当前窗口内的请求数
}

// fixedWindowLimiter 固定窗口限流器：窗口W内至多N个请求，
// 窗口编号前进时计数归零。O(1)内存，接受相邻窗口边界处最多2N的突发。
type fixedWindowLimiter struct {
	name   string
	config Config
	clock  clock.Clock

	mu      sync.Mutex
	windows map[string]*windowState
	stats   Stats
}

func newFixedWindow(name string, config Config, clk clock.Clock) *fixedWindowLimiter {
	return &fixedWindowLimiter{
		name:    name,
		config:  config,
		clock:   clk,
		windows: make(map[string]*windowState),
	}
}

func (l *fixedWindowLimiter) Name() string         { return l.name }
func (l *fixedWindowLimiter) Algorithm() Algorithm { return AlgorithmFixedWindow }
func (l *fixedWindowLimiter) Config() Config       { return l.config }

// Allow 窗口编号前进时重置计数，再判断配额
func (l *fixedWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.advanceLocked(key)

	l.stats.TotalRequests++

	if state.count < l.config.Capacity {
		state.count++
		l.stats.Allowed++

		return true
	}

	l.stats.Rejected++

	return false
}

// WaitTime 返回距离下一个窗口边界的时长
func (l *fixedWindowLimiter) WaitTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.advanceLocked(key)

	if state.count < l.config.Capacity {
		return 0
	}

	now := l.clock.Now()
	next := (state.index + 1) * l.config.Window.Nanoseconds()

	return time.Duration(next - now.UnixNano())
}

// Stats 返回统计快照
func (l *fixedWindowLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// advanceLocked 取出键的窗口状态并推进窗口编号，必须持锁调用
func (l *fixedWindowLimiter) advanceLocked(key string) *windowState {
	index := l.clock.Now().UnixNano() / l.config.Window.Nanoseconds()

	state, ok := l.windows[key]
	if !ok {
		state = &windowState{index: index}
		l.windows[key] = state

		return state
	}

	if state.index != index {
		state.index = index
		state.count = 0
	}

	return state
}
