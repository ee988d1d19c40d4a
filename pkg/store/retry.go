// retry.go retries ledger writes that fail on transient SQLite errors.
//
// A rebuild writes the ledger while `skylog report` or `skylog dangling`
// may be reading it. WAL mode lets readers and the writer proceed, and
// busy_timeout absorbs most lock waits, but SQLITE_LOCKED and
// IOERR_SHORT_READ can still surface and clear on a second attempt.
package store

import (
	"math/rand"
	"strings"
	"time"
)

// retryPolicy controls retries of transient SQLite errors.
type retryPolicy struct {
	attempts int // total tries, including the first
	base     time.Duration
	ceiling  time.Duration
	sleep    func(time.Duration)
}

var defaultRetryPolicy = retryPolicy{
	attempts: 4,
	base:     50 * time.Millisecond,
	ceiling:  500 * time.Millisecond,
	sleep:    time.Sleep,
}

// transientMarkers are substrings of modernc.org/sqlite error messages for
// errors that a retry can clear.
var transientMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",   // SQLITE_BUSY
	"(6)",   // SQLITE_LOCKED
	"(522)", // SQLITE_IOERR_SHORT_READ
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryOnContention runs fn under the default policy.
func retryOnContention(fn func() error) error {
	return defaultRetryPolicy.do(fn)
}

// do runs fn until it succeeds, fails permanently, or runs out of
// attempts. The last error is returned.
func (p retryPolicy) do(fn func() error) error {
	attempts := max(p.attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		if i+1 < attempts {
			p.sleep(p.delay(i))
		}
	}
	return err
}

// delay is base*2^i capped at ceiling, plus up to base of jitter.
func (p retryPolicy) delay(i int) time.Duration {
	d := p.base << uint(i)
	if d > p.ceiling || d <= 0 {
		d = p.ceiling
	}
	if p.base > 0 {
		d += time.Duration(rand.Int63n(int64(p.base)))
	}
	return d
}
