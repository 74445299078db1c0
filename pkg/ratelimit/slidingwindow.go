package ratelimit

import (
	"sync"
	"time"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
)

// slidingWindowLimiter 滑动窗口限流器：窗口W内至多N个请求。
// 每个键维护窗口内的请求时间戳列表，计数精确但内存与窗口内请求数成正比。
type slidingWindowLimiter struct {
	name   string
	config Config
	clock  clock.Clock

	mu         sync.Mutex
	timestamps map[string][]time.Time
	stats      Stats
}

func newSlidingWindow(name string, config Config, clk clock.Clock) *slidingWindowLimiter {
	return &slidingWindowLimiter{
		name:       name,
		config:     config,
		clock:      clk,
		timestamps: make(map[string][]time.Time),
	}
}

func (l *slidingWindowLimiter) Name() string         { return l.name }
func (l *slidingWindowLimiter) Algorithm() Algorithm { return AlgorithmSlidingWindow }
func (l *slidingWindowLimiter) Config() Config       { return l.config }

// Allow 剔除窗口外的时间戳后判断是否还有配额
func (l *slidingWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := l.pruneLocked(key, now)

	l.stats.TotalRequests++

	if len(recent) < l.config.Capacity {
		l.timestamps[key] = append(recent, now)
		l.stats.Allowed++

		return true
	}

	l.timestamps[key] = recent
	l.stats.Rejected++

	return false
}

// WaitTime 返回最老的时间戳滑出窗口所需的时长
func (l *slidingWindowLimiter) WaitTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := l.pruneLocked(key, now)
	l.timestamps[key] = recent

	if len(recent) < l.config.Capacity {
		return 0
	}

	oldest := recent[0]
	wait := oldest.Add(l.config.Window).Sub(now)
	if wait < 0 {
		wait = 0
	}

	return wait
}

// Stats 返回统计快照
func (l *slidingWindowLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// pruneLocked 返回键在窗口内的时间戳，必须持锁调用
func (l *slidingWindowLimiter) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.config.Window)

	recent := l.timestamps[key]
	idx := 0
	for idx < len(recent) && !recent[idx].After(cutoff) {
		idx++
	}

	return recent[idx:]
}
