package ratelimiter

import (
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	bucketKeyPrefix   = "stockchat:rl:bucket:"
	lastFillKeyPrefix = "stockchat:rl:fill:"
	defaultSourceKey  = "X-RateLimit-Key"
)

type Limiter interface {
	Allow(sourceKey string) bool
	GetSourceKey(r *http.Request) string
	Remaining(sourceKey string) int
	RetryAfter(sourceKey string) time.Duration
	GetMaxBurst() int
}

// RateLimiter is a token bucket whose state lives in a GetterSetter, so
// several web processes can share one Redis-backed bucket per source.
type RateLimiter struct {
	maxRatePerMillisecond float64
	maxBurst              int
	cache                 GetterSetter
	cacheTTL              time.Duration
	sourceHeaderKey       string
	now                   func() time.Time
	// Per-key locks to ensure atomic operations for each source
	locks sync.Map // map[string]*sync.Mutex
}

func (rl *RateLimiter) getLock(sourceKey string) *sync.Mutex {
	lock, _ := rl.locks.LoadOrStore(sourceKey, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

type bucketState struct {
	tokens   int
	lastFill int64 // Unix milliseconds
}

func (rl *RateLimiter) getState(sourceKey string, now int64) bucketState {
	bucket, bucketErr := rl.cache.Get(bucketKeyPrefix + sourceKey)
	lastFill, fillErr := rl.cache.Get(lastFillKeyPrefix + sourceKey)

	// A miss starts a full bucket; any other cache error fails open the same way.
	if bucketErr != nil || fillErr != nil {
		return bucketState{
			tokens:   rl.maxBurst,
			lastFill: now,
		}
	}

	return bucketState{
		tokens:   bucket,
		lastFill: int64(lastFill),
	}
}

func (rl *RateLimiter) setState(sourceKey string, state bucketState) {
	_ = rl.cache.SetWithExpiration(bucketKeyPrefix+sourceKey, state.tokens, rl.cacheTTL)
	_ = rl.cache.SetWithExpiration(lastFillKeyPrefix+sourceKey, int(state.lastFill), rl.cacheTTL)
}

// refillTokens adds the whole tokens earned since lastFill. lastFill only
// advances by the time those tokens cost, so partial tokens carry over.
func (rl *RateLimiter) refillTokens(state bucketState, now int64) bucketState {
	elapsed := now - state.lastFill
	if elapsed <= 0 || rl.maxRatePerMillisecond <= 0 {
		return state
	}

	earned := math.Floor(float64(elapsed) * rl.maxRatePerMillisecond)
	if earned < 1 {
		return state
	}

	tokens := float64(state.tokens) + earned
	if tokens >= float64(rl.maxBurst) {
		return bucketState{
			tokens:   rl.maxBurst,
			lastFill: now,
		}
	}

	return bucketState{
		tokens:   int(tokens),
		lastFill: state.lastFill + int64(math.Round(earned/rl.maxRatePerMillisecond)),
	}
}

func (rl *RateLimiter) current(sourceKey string) (bucketState, bucketState, int64) {
	now := rl.now().UnixMilli()
	state := rl.getState(sourceKey, now)
	return state, rl.refillTokens(state, now), now
}

func (rl *RateLimiter) Remaining(sourceKey string) int {
	lock := rl.getLock(sourceKey)
	lock.Lock()
	defer lock.Unlock()

	state, newState, _ := rl.current(sourceKey)
	if newState != state {
		rl.setState(sourceKey, newState)
	}

	return newState.tokens
}

// RetryAfter is how long until sourceKey earns its next token.
func (rl *RateLimiter) RetryAfter(sourceKey string) time.Duration {
	lock := rl.getLock(sourceKey)
	lock.Lock()
	defer lock.Unlock()

	_, state, now := rl.current(sourceKey)
	if state.tokens > 0 || rl.maxRatePerMillisecond <= 0 {
		return 0
	}

	perToken := int64(math.Ceil(1/rl.maxRatePerMillisecond - 1e-9))
	wait := state.lastFill + perToken - now
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait) * time.Millisecond
}

func (rl *RateLimiter) GetMaxBurst() int {
	return rl.maxBurst
}

func (rl *RateLimiter) Allow(sourceKey string) bool {
	lock := rl.getLock(sourceKey)
	lock.Lock()
	defer lock.Unlock()

	state, newState, _ := rl.current(sourceKey)

	if newState.tokens > 0 {
		newState.tokens--
		rl.setState(sourceKey, newState)
		return true
	}

	if newState != state {
		rl.setState(sourceKey, newState)
	}

	return false
}

// GetSourceKey identifies the caller by the configured header, falling
// back to the remote host without its port.
func (rl *RateLimiter) GetSourceKey(r *http.Request) string {
	if key := r.Header.Get(rl.sourceHeaderKey); key != "" {
		return key
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type Options struct {
	MaxRatePerSecond int
	MaxBurst         int
	Cache            GetterSetter
	CacheTTL         time.Duration
	SourceHeaderKey  string
	Now              func() time.Time
}

var ErrInvalidRate = errors.New("rate limiter: max rate per second must be positive")

func New(options Options) (*RateLimiter, error) {
	if options.MaxRatePerSecond <= 0 {
		return nil, ErrInvalidRate
	}

	if options.Now == nil {
		options.Now = time.Now
	}

	if options.Cache == nil {
		options.Cache = NewMemoryStore(options.Now, defaultSweepInterval)
	}

	if options.CacheTTL == 0 {
		options.CacheTTL = 10 * time.Second
	}

	if options.MaxBurst <= 0 {
		options.MaxBurst = options.MaxRatePerSecond
	}

	if options.SourceHeaderKey == "" {
		options.SourceHeaderKey = defaultSourceKey
	}

	return &RateLimiter{
		maxRatePerMillisecond: float64(options.MaxRatePerSecond) / 1000.0,
		maxBurst:              options.MaxBurst,
		cache:                 options.Cache,
		cacheTTL:              options.CacheTTL,
		sourceHeaderKey:       options.SourceHeaderKey,
		now:                   options.Now,
	}, nil
}

func (rl *RateLimiter) Close() error {
	return rl.cache.Close()
}
