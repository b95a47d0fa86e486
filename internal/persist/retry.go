package persist

import (
	"errors"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// coded is satisfied by *sqlite.Error
type coded interface{ Code() int }

var _ coded = (*sqlite.Error)(nil)

// contention bounds the retries of a SQLite save that lost a lock race with
// another process writing the same file
type contention struct {
	attempts int
	delay    time.Duration // doubled after every failed attempt
	maxDelay time.Duration
}

var defaultContention = contention{attempts: 4, delay: 50 * time.Millisecond, maxDelay: 500 * time.Millisecond}

// busy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes
func busy(err error) bool {
	var c coded
	if !errors.As(err, &c) {
		return false
	}
	switch c.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (c contention) do(fn func() error) error {
	delay := c.delay
	var err error
	for i := 0; i < c.attempts; i++ {
		if err = fn(); !busy(err) {
			return err
		}
		if i == c.attempts-1 {
			break
		}
		time.Sleep(delay)
		delay = min(2*delay, c.maxDelay)
	}
	return err
}

func retryOnContention(fn func() error) error {
	return defaultContention.do(fn)
}
