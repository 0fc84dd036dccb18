package limiter

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// minInterval floors the derived pacing interval so a misconfigured budget
// can never collapse spacing to zero.
const minInterval = 250 * time.Millisecond

// Config sizes the limiter.
type Config struct {
	// AccountRPM is the account-wide requests-per-minute budget shared by
	// every process calling the external API.
	AccountRPM int

	// ExpectedProcesses is how many concurrent worker processes share the
	// account budget. The per-process interval is derived as
	// 60s / (AccountRPM / ExpectedProcesses). Size this conservatively:
	// there is no cross-process coordination.
	ExpectedProcesses int

	// DefaultCooldown applies when a rate-limit response carries no
	// parseable retry-after hint.
	DefaultCooldown time.Duration

	// MaxCooldown caps the adaptive backoff growth.
	MaxCooldown time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		AccountRPM:        24,
		ExpectedProcesses: 2,
		DefaultCooldown:   30 * time.Second,
		MaxCooldown:       10 * time.Minute,
	}
}

// Limiter serializes the starts of outbound calls through a FIFO gate so
// call starts are evenly spaced at the derived interval, while the calls
// themselves may overlap in flight. Recognized rate-limit errors push a
// cooldown that grows with consecutive occurrences.
type Limiter struct {
	interval        time.Duration
	defaultCooldown time.Duration
	maxCooldown     time.Duration
	logger          *slog.Logger

	// gate is the capacity-1 FIFO admitting one start at a time.
	gate chan struct{}

	// mu guards the pacing state below.
	mu               sync.Mutex
	nextAllowedStart time.Time
	cooldownUntil    time.Time
	consecutive429s  int
}

// New creates a Limiter from the given config.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if cfg.AccountRPM <= 0 {
		cfg.AccountRPM = 1
	}
	if cfg.ExpectedProcesses <= 0 {
		cfg.ExpectedProcesses = 1
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = 30 * time.Second
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = 10 * time.Minute
	}

	perProcessRPM := float64(cfg.AccountRPM) / float64(cfg.ExpectedProcesses)
	interval := time.Duration(float64(time.Minute) / perProcessRPM)
	if interval < minInterval {
		interval = minInterval
	}

	l := &Limiter{
		interval:        interval,
		defaultCooldown: cfg.DefaultCooldown,
		maxCooldown:     cfg.MaxCooldown,
		logger:          logger.With("component", "call_limiter"),
		gate:            make(chan struct{}, 1),
	}
	l.gate <- struct{}{}
	return l
}

// Interval returns the derived minimum spacing between call starts.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Run paces the start of op and observes its outcome. The gate is held only
// until the start slot arrives, never for op's full duration. A recognized
// rate-limit error extends the cooldown; anything else passes through
// untouched for the caller's own retry bookkeeping.
func (l *Limiter) Run(ctx context.Context, label string, op func(context.Context) error) error {
	select {
	case <-l.gate:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	start := l.nextAllowedStart
	if l.cooldownUntil.After(start) {
		start = l.cooldownUntil
	}
	l.mu.Unlock()

	if wait := time.Until(start); wait > 0 {
		l.logger.Debug("pacing outbound call",
			"label", label,
			"wait_ms", wait.Milliseconds())
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.gate <- struct{}{}
			return ctx.Err()
		}
	}

	l.mu.Lock()
	l.nextAllowedStart = time.Now().Add(l.interval)
	l.mu.Unlock()

	l.gate <- struct{}{}

	err := op(ctx)
	l.observe(label, err)
	return err
}

// observe updates the adaptive backoff state from a call outcome.
func (l *Limiter) observe(label string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err == nil {
		l.consecutive429s = 0
		return
	}

	if !IsRateLimitError(err) {
		return
	}

	l.consecutive429s++

	cooldown := l.defaultCooldown
	if hinted, ok := RetryAfterHint(err); ok {
		cooldown = hinted
	}

	// Each consecutive rate-limit response doubles the applied cooldown,
	// capped at the configured maximum.
	for i := 1; i < l.consecutive429s; i++ {
		cooldown *= 2
		if cooldown >= l.maxCooldown {
			break
		}
	}
	if cooldown > l.maxCooldown {
		cooldown = l.maxCooldown
	}

	until := time.Now().Add(cooldown)
	if until.After(l.cooldownUntil) {
		l.cooldownUntil = until
	}

	l.logger.Warn("rate limit observed, cooling down",
		"label", label,
		"cooldown_ms", cooldown.Milliseconds(),
		"consecutive", l.consecutive429s)
}

// Rate-limit signal detection operates on the stringified error because the
// vendors involved surface overload through different client libraries and
// response shapes.
var (
	rateLimitTokenRegex = regexp.MustCompile(`(^|[^0-9])429([^0-9]|$)`)
	retryAfterRegex     = regexp.MustCompile(`(?i)retry[_\s-]?after[:\s]+([0-9]+(?:\.[0-9]+)?)`)
)

// IsRateLimitError reports whether the error looks like a rate-limit
// response: a 429 token or an overload phrase in the message.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if rateLimitTokenRegex.MatchString(msg) {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate-limit") ||
		strings.Contains(lower, "throttled") ||
		strings.Contains(lower, "throttling") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "too many requests")
}

// RetryAfterHint extracts a vendor-specified retry delay in seconds from
// common phrasings ("retry_after: N", "retry after N", "retry-after: N").
func RetryAfterHint(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	match := retryAfterRegex.FindStringSubmatch(err.Error())
	if match == nil {
		return 0, false
	}
	seconds, parseErr := strconv.ParseFloat(match[1], 64)
	if parseErr != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
