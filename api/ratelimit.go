package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// maxFailures consecutive failed verifications start a lockout.
	maxFailures = 5
	// baseLockout doubles with every failure past maxFailures, up to maxLockout.
	baseLockout = 1 * time.Minute
	maxLockout  = 15 * time.Minute
	// attemptExpiry forgets a pad's failures this long after the last one.
	attemptExpiry = 1 * time.Hour
	// limiterSweepInterval is how often API.Run sweeps expired records.
	limiterSweepInterval = 10 * time.Minute
)

// verificationLimiter locks a pad out of the assertion endpoints after
// repeated verification failures, so a device holding a pad ID but not its
// key cannot grind signatures against it. Successful verification clears
// the pad's record.
type verificationLimiter struct {
	mu   sync.Mutex
	pads map[string]*padFailures
	now  func() time.Time
}

type padFailures struct {
	count       int
	last        time.Time
	lockedUntil time.Time
}

func newVerificationLimiter() *verificationLimiter {
	return &verificationLimiter{
		pads: make(map[string]*padFailures),
		now:  time.Now,
	}
}

// lockoutFor returns the lockout earned by the given number of consecutive
// failures.
func lockoutFor(failures int) time.Duration {
	if failures < maxFailures {
		return 0
	}
	d := baseLockout
	for range failures - maxFailures {
		d *= 2
		if d >= maxLockout {
			return maxLockout
		}
	}
	return d
}

// check reports whether padID is locked out and for how much longer.
func (rl *verificationLimiter) check(padID string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	f, ok := rl.pads[padID]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(f.last) > attemptExpiry {
		delete(rl.pads, padID)
		return false, 0
	}
	if remaining := f.lockedUntil.Sub(now); remaining > 0 {
		return true, remaining
	}
	return false, 0
}

func (rl *verificationLimiter) recordFailure(padID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	f, ok := rl.pads[padID]
	if !ok {
		f = &padFailures{}
		rl.pads[padID] = f
	}
	f.count++
	f.last = rl.now()
	if d := lockoutFor(f.count); d > 0 {
		f.lockedUntil = f.last.Add(d)
	}
}

func (rl *verificationLimiter) recordSuccess(padID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.pads, padID)
}

// sweep drops records whose last failure is older than attemptExpiry.
func (rl *verificationLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, f := range rl.pads {
		if now.Sub(f.last) > attemptExpiry {
			delete(rl.pads, id)
		}
	}
}

// writeRateLimited sends 429 with a Retry-After of at least one second.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "too many failed verifications; try again later")
}
