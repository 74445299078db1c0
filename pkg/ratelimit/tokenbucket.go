package ratelimit

import (
	"sync"
	"time"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
)

// bucketState 单个键的令牌桶状态
type bucketState struct {
	tokens     float64   // 当前令牌数
	lastRefill time.Time // 上次补充时间
}

// tokenBucketLimiter 令牌桶限流器：容量C，速率R令牌/秒。
// 每次Allow先按流逝时间补充令牌(封顶C)，再尝试消费1个。
type tokenBucketLimiter struct {
	name   string
	config Config
	clock  clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucketState
	stats   Stats
}

func newTokenBucket(name string, config Config, clk clock.Clock) *tokenBucketLimiter {
	return &tokenBucketLimiter{
		name:    name,
		config:  config,
		clock:   clk,
		buckets: make(map[string]*bucketState),
	}
}

func (l *tokenBucketLimiter) Name() string         { return l.name }
func (l *tokenBucketLimiter) Algorithm() Algorithm { return AlgorithmTokenBucket }
func (l *tokenBucketLimiter) Config() Config       { return l.config }

// Allow 补充并尝试消费一个令牌
func (l *tokenBucketLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.refillLocked(key)

	l.stats.TotalRequests++

	if bucket.tokens >= 1 {
		bucket.tokens--
		l.stats.Allowed++

		return true
	}

	l.stats.Rejected++

	return false
}

// WaitTime 返回至少出现1个令牌所需的时长
func (l *tokenBucketLimiter) WaitTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.refillLocked(key)

	if bucket.tokens >= 1 {
		return 0
	}

	missing := 1 - bucket.tokens
	seconds := missing / l.config.Rate

	return time.Duration(seconds * float64(time.Second))
}

// Stats 返回统计快照
func (l *tokenBucketLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// refillLocked 取出键的桶并按流逝时间补充令牌，必须持锁调用
func (l *tokenBucketLimiter) refillLocked(key string) *bucketState {
	now := l.clock.Now()

	bucket, ok := l.buckets[key]
	if !ok {
		// 新键从满桶开始
		bucket = &bucketState{tokens: float64(l.config.Capacity), lastRefill: now}
		l.buckets[key] = bucket

		return bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	if elapsed > 0 {
		bucket.tokens += elapsed * l.config.Rate
		if max := float64(l.config.Capacity); bucket.tokens > max {
			bucket.tokens = max
		}
		bucket.lastRefill = now
	}

	return bucket
}
