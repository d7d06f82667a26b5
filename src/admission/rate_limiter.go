package admission

import (
	"sync"
	"time"

	"coinwatch/src/logger"
	"coinwatch/src/models"
)

// -----------------------------------------------------------------------------
// IP Rate Limiter
// -----------------------------------------------------------------------------
// Single owner of all per-IP request accounting: per-second counters, the
// 15-minute soft window with violation escalation, the blacklist, and the
// per-IP concurrent subscription counts. Mutated from the admission middleware
// and from connection teardown, so everything sits behind one mutex.

type ipState struct {
	secBucket   int64 // unix second of the current 1s bucket
	secCount    int
	windowStart time.Time
	windowCount int
	violations  int
	activeConns int
	lastSeen    time.Time
}

// Decision is the outcome of admission for one request.
type Decision struct {
	Allowed   bool
	Forbidden bool          // true: blacklist reject; false + !Allowed: retry later
	Delay     time.Duration // progressive slowdown to apply before handling
}

type RateLimiter struct {
	mu        sync.Mutex
	ips       map[string]*ipState
	blacklist map[string]time.Time // ip -> expiry

	limits models.MLimitsConfig
	logger *logger.Entry

	// injectable clock for tests
	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewRateLimiter(limits models.MLimitsConfig, log *logger.Log) *RateLimiter {
	return &RateLimiter{
		ips:       make(map[string]*ipState),
		blacklist: make(map[string]time.Time),
		limits:    limits,
		logger:    log.WithComponent("admission"),
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

// Check accounts one request from ip and decides its fate. Blacklist
// membership is checked before any counting.
func (rl *RateLimiter) Check(ip string) Decision {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.isBlacklisted(ip, now) {
		return Decision{Forbidden: true}
	}

	st := rl.ips[ip]
	if st == nil {
		st = &ipState{windowStart: now}
		rl.ips[ip] = st
	}
	st.lastSeen = now

	// Per-second hard cap: exceeding it blacklists the IP outright.
	sec := now.Unix()
	if st.secBucket != sec {
		st.secBucket = sec
		st.secCount = 0
	}
	st.secCount++
	if st.secCount > rl.limits.RequestsPerSecond {
		rl.addToBlacklist(ip, now)
		rl.logger.WithFields(logger.Fields{"ip": ip, "count": st.secCount}).
			Warn("per-second cap exceeded, IP blacklisted")
		return Decision{Forbidden: true}
	}

	// Longer-window soft cap with escalation for repeat offenders.
	windowDur := time.Duration(rl.limits.WindowMinutes) * time.Minute
	if now.Sub(st.windowStart) >= windowDur {
		st.windowStart = now
		st.windowCount = 0
	}
	st.windowCount++
	if st.windowCount > rl.limits.WindowRequests {
		st.violations++
		if st.violations > rl.limits.WindowViolations {
			rl.addToBlacklist(ip, now)
			rl.logger.WithFields(logger.Fields{"ip": ip, "violations": st.violations}).
				Warn("repeat window violations, IP escalated to blacklist")
			return Decision{Forbidden: true}
		}
		return Decision{Allowed: false}
	}

	rl.pruneLocked(now)

	return Decision{Allowed: true, Delay: rl.slowdownLocked(st)}
}

// -----------------------------------------------------------------------------

// slowdownLocked computes the progressive delay: proportional to how busy the
// current second already is, capped.
func (rl *RateLimiter) slowdownLocked(st *ipState) time.Duration {
	threshold := rl.limits.RequestsPerSecond / 2
	if threshold < 1 || st.secCount <= threshold {
		return 0
	}

	over := st.secCount - threshold
	step := time.Duration(rl.limits.SlowdownMaxMillis/rl.limits.RequestsPerSecond) * time.Millisecond
	delay := time.Duration(over) * step

	max := time.Duration(rl.limits.SlowdownMaxMillis) * time.Millisecond
	if delay > max {
		delay = max
	}
	return delay
}

// -----------------------------------------------------------------------------

// AcquireConn reserves one concurrent subscription slot for ip.
func (rl *RateLimiter) AcquireConn(ip string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.isBlacklisted(ip, now) {
		return false
	}

	st := rl.ips[ip]
	if st == nil {
		st = &ipState{windowStart: now}
		rl.ips[ip] = st
	}
	st.lastSeen = now

	if st.activeConns >= rl.limits.MaxConnectionsPerIP {
		return false
	}
	st.activeConns++
	return true
}

// ReleaseConn frees a subscription slot. Safe to call after expiry.
func (rl *RateLimiter) ReleaseConn(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if st := rl.ips[ip]; st != nil && st.activeConns > 0 {
		st.activeConns--
	}
}

// -----------------------------------------------------------------------------

// BlacklistSize reports current (non-expired) blacklist membership.
func (rl *RateLimiter) BlacklistSize() int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for ip, expiry := range rl.blacklist {
		if now.Before(expiry) {
			n++
		} else {
			delete(rl.blacklist, ip)
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// Internals (callers hold rl.mu)
// -----------------------------------------------------------------------------

func (rl *RateLimiter) isBlacklisted(ip string, now time.Time) bool {
	expiry, ok := rl.blacklist[ip]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(rl.blacklist, ip)
		return false
	}
	return true
}

func (rl *RateLimiter) addToBlacklist(ip string, now time.Time) {
	rl.blacklist[ip] = now.Add(time.Duration(rl.limits.BlacklistMinutes) * time.Minute)
}

// pruneLocked lazily drops IP entries idle for longer than the soft window,
// keeping the map bounded without a background sweeper. Entries holding active
// connections stay.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	if len(rl.ips) < 1024 {
		return
	}
	idle := 2 * time.Duration(rl.limits.WindowMinutes) * time.Minute
	for ip, st := range rl.ips {
		if st.activeConns == 0 && now.Sub(st.lastSeen) > idle {
			delete(rl.ips, ip)
		}
	}
}
