// Package clocktest 将 clockwork 的假时钟适配为 clock.Clock 接口。
// Go 接口按名义类型比较方法签名，NewTicker 的返回值需要重新装箱。
package clocktest

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/zhoudengt/hifate-governance/pkg/clock"
)

// FakeClock 是可手动推进时间的时钟
type FakeClock interface {
	clock.Clock

	// Advance 将时钟向前推进d
	Advance(d time.Duration)

	// BlockUntil 阻塞直到有n个等待者在等待时钟推进
	BlockUntil(n int)
}

// NewFakeClock 创建一个基于clockwork的假时钟
func NewFakeClock() FakeClock {
	return fakeClock{clockwork.NewFakeClock()}
}

// NewFakeClockAt 创建一个起始于t的假时钟
func NewFakeClockAt(t time.Time) FakeClock {
	return fakeClock{clockwork.NewFakeClockAt(t)}
}

type fakeClock struct {
	clockwork.FakeClock
}

var _ FakeClock = fakeClock{}

// NewTicker 把clockwork.Ticker重新装箱为clock.Ticker
func (f fakeClock) NewTicker(d time.Duration) clock.Ticker {
	return f.FakeClock.NewTicker(d)
}
