package cache

import "time"

// TTLPolicy 根据模块集合是否精确锁定给出过期时间：精确版本的产物永不过时，
// 因此使用更长的 Exact TTL；范围版本可能在上游出现新版本，使用 Default TTL。
type TTLPolicy struct {
	Default time.Duration
	Exact   time.Duration
	now     func() time.Time
}

// NewTTLPolicy 构造策略，默认使用 time.Now 作为时钟。
func NewTTLPolicy(defaultTTL, exactTTL time.Duration) TTLPolicy {
	return TTLPolicy{
		Default: defaultTTL,
		Exact:   exactTTL,
		now:     time.Now,
	}
}

// WithClock 返回使用指定时钟的副本，测试中用于冻结时间。
func (p TTLPolicy) WithClock(now func() time.Time) TTLPolicy {
	p.now = now
	return p
}

// Now 返回策略时钟的当前时间。
func (p TTLPolicy) Now() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

// TTL 返回对应 pin 状态生效的时长。
func (p TTLPolicy) TTL(exact bool) time.Duration {
	if exact {
		return p.Exact
	}
	return p.Default
}

// ExpiryFor 始终以 created + ttl 计算过期时间。
func (p TTLPolicy) ExpiryFor(created time.Time, exact bool) time.Time {
	return created.Add(p.TTL(exact))
}

// Expired 在 now 严格晚于 expiresAt 时返回 true。
func (p TTLPolicy) Expired(expiresAt time.Time) bool {
	return p.Now().After(expiresAt)
}
