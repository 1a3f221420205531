package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 窗口长度固定为 1 分钟 / 1 小时，限额各自独立配置
const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Config 限流器配置
type Config struct {
	PerMinute int           // 分钟窗口限额
	PerHour   int           // 小时窗口限额
	IdleTTL   time.Duration // 条目空闲多久后被回收
}

// Result 单次限流判定结果
type Result struct {
	Allowed         bool
	MinuteLimit     int
	MinuteRemaining int
	HourLimit       int
	HourRemaining   int
	RetryAfter      time.Duration // 仅在拒绝时有意义
}

// entry 单个标识符的计数状态
//
// 每个条目持有自己的互斥锁，互不相关的调用方不会相互串行化。
// evicted 标志用于和清扫协程握手：清扫先置位再从映射删除，
// 并发的计数协程发现置位后重新建条目，杜绝丢失计数。
type entry struct {
	mu          sync.Mutex
	evicted     bool
	minuteCount int
	minuteStart time.Time
	hourCount   int
	hourStart   time.Time
	lastSeen    time.Time
}

// Limiter 双固定窗口限流器
//
// 以解析后的身份标识为键，同时维护分钟与小时两个窗口。
// 状态仅存在于本进程内存，不做跨实例共享。
type Limiter struct {
	entries   sync.Map
	perMinute int
	perHour   int
	idleTTL   time.Duration
	log       *zap.Logger

	// 测试中可替换的时钟
	now func() time.Time
}

// New 创建限流器
func New(cfg Config, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = time.Hour
	}
	return &Limiter{
		perMinute: cfg.PerMinute,
		perHour:   cfg.PerHour,
		idleTTL:   idleTTL,
		log:       log,
		now:       time.Now,
	}
}

// Allow 判定标识符 id 的一次请求是否放行
//
// 窗口重置严格按 now - windowStart >= 窗口长度 判定。
// 分钟窗口超限时 RetryAfter 固定报 60 秒（提示值），
// 小时窗口超限时报距窗口重置的剩余秒数。
func (l *Limiter) Allow(id string) *Result {
	for {
		value, _ := l.entries.LoadOrStore(id, &entry{})
		e := value.(*entry)

		e.mu.Lock()
		if e.evicted {
			// 条目刚被清扫摘除，重建后重试
			e.mu.Unlock()
			continue
		}

		now := l.now()
		if e.minuteStart.IsZero() {
			e.minuteStart = now
			e.hourStart = now
		}

		// 窗口到期整体重置
		if now.Sub(e.minuteStart) >= minuteWindow {
			e.minuteCount = 0
			e.minuteStart = now
		}
		if now.Sub(e.hourStart) >= hourWindow {
			e.hourCount = 0
			e.hourStart = now
		}

		e.lastSeen = now

		res := &Result{
			MinuteLimit: l.perMinute,
			HourLimit:   l.perHour,
		}

		switch {
		case e.minuteCount >= l.perMinute:
			res.Allowed = false
			res.RetryAfter = minuteWindow
		case e.hourCount >= l.perHour:
			res.Allowed = false
			res.RetryAfter = e.hourStart.Add(hourWindow).Sub(now)
		default:
			res.Allowed = true
			e.minuteCount++
			e.hourCount++
		}

		res.MinuteRemaining = max(l.perMinute-e.minuteCount, 0)
		res.HourRemaining = max(l.perHour-e.hourCount, 0)

		e.mu.Unlock()
		return res
	}
}

// Sweep 周期性回收空闲条目，直到 ctx 取消
func (l *Limiter) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepOnce()
		}
	}
}

// sweepOnce 执行一轮空闲条目回收
func (l *Limiter) sweepOnce() {
	now := l.now()
	evicted := 0

	l.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		if now.Sub(e.lastSeen) >= l.idleTTL {
			e.evicted = true
			l.entries.Delete(key)
			evicted++
		}
		e.mu.Unlock()
		return true
	})

	if evicted > 0 {
		l.log.Info("idle rate limit entries evicted", zap.Int("count", evicted))
	}
}

// Size 返回当前跟踪的标识符数量（用于测试与指标）
func (l *Limiter) Size() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
