// Package decay keeps broadcasts that have not been confirmed yet and re-sends
// them on a doubling interval until they are acknowledged or expire.
package decay

import (
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// Entry is one pending re-broadcast.
type Entry struct {
	ID              string        `json:"id"`
	Source          string        `json:"source"`
	Label           string        `json:"label"`
	Payload         string        `json:"payload"`
	CreatedAt       time.Time     `json:"created_at"`
	LastBroadcastAt time.Time     `json:"last_broadcast_at"`
	Interval        time.Duration `json:"interval_ns"`
	MaxInterval     time.Duration `json:"max_interval_ns"`
	Attempts        int           `json:"attempts"`
}

// Queue holds decay entries in arrival order. It is owned by a single worker
// and is not safe for concurrent use.
type Queue struct {
	entries []Entry
	now     func() time.Time
	logger  logrus.FieldLogger
}

// Option configures a Queue
type Option func(*Queue)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// NewQueue creates an empty decay queue
func NewQueue(logger logrus.FieldLogger, opts ...Option) *Queue {
	q := &Queue{
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add registers payload for re-broadcast every interval, doubling after each
// retry until the interval passes maxInterval. The returned id is empty and ok
// is false when the arguments are rejected.
func (q *Queue) Add(source, label, payload string, interval, maxInterval time.Duration) (string, bool) {
	if source == "" || payload == "" {
		return "", false
	}
	if interval <= 0 || maxInterval <= 0 {
		return "", false
	}
	// at least one retry must happen before the entry expires
	if interval > maxInterval/2 {
		return "", false
	}

	now := q.now()
	entry := Entry{
		ID:              fingerprint(now, source, payload, interval),
		Source:          source,
		Label:           label,
		Payload:         payload,
		CreatedAt:       now,
		LastBroadcastAt: now,
		Interval:        interval,
		MaxInterval:     maxInterval,
	}
	q.entries = append(q.entries, entry)

	q.logger.WithFields(logrus.Fields{
		"decay_id": entry.ID,
		"source":   source,
	}).Infof("decay{add}: %s resending in %s minutes", label, minutes(interval))

	return entry.ID, true
}

// Remove drops every entry with the given id and returns how many were removed.
func (q *Queue) Remove(id string) int {
	if id == "" {
		return 0
	}

	now := q.now()
	kept := q.entries[:0]
	removed := 0
	for _, e := range q.entries {
		if e.ID != id {
			kept = append(kept, e)
			continue
		}
		removed++
		q.logger.WithFields(logrus.Fields{
			"decay_id": e.ID,
			"source":   e.Source,
		}).Infof("decay{remove}: %s after %s minutes", e.Label, minutes(now.Sub(e.CreatedAt)))
	}
	clearTail(q.entries, len(kept))
	q.entries = kept

	return removed
}

// Tick returns the payloads that are due for another broadcast and drops
// entries whose interval has grown past their ceiling.
func (q *Queue) Tick() []string {
	now := q.now()
	var due []string

	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.LastBroadcastAt) >= e.Interval {
			due = append(due, e.Payload)
			q.logger.WithFields(logrus.Fields{
				"decay_id": e.ID,
				"source":   e.Source,
			}).Infof("decay{retry}: #%d) %s after %s minutes, next in %s minutes",
				e.Attempts+1, e.Label, minutes(e.Interval), minutes(double(e.Interval)))

			e.LastBroadcastAt = now
			e.Interval = double(e.Interval)
			e.Attempts++
		}

		if e.Interval <= e.MaxInterval {
			kept = append(kept, e)
			continue
		}
		q.logger.WithFields(logrus.Fields{
			"decay_id": e.ID,
			"source":   e.Source,
		}).Infof("decay{done}: %s after %s minutes", e.Label, minutes(now.Sub(e.CreatedAt)))
	}
	clearTail(q.entries, len(kept))
	q.entries = kept

	return due
}

// Size returns the number of pending entries
func (q *Queue) Size() int {
	return len(q.entries)
}

// Clear drops all entries and returns how many there were
func (q *Queue) Clear() int {
	n := len(q.entries)
	q.entries = nil
	return n
}

// Snapshot returns a copy of the pending entries in arrival order
func (q *Queue) Snapshot() []Entry {
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// fingerprint derives an entry id from its content. The random component keeps
// two adds of the same payload within one second apart.
func fingerprint(now time.Time, source, payload string, interval time.Duration) string {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return uuid.NewString()
	}
	fmt.Fprintf(h, "%d%s%s%d%s", now.Unix(), source, payload, int64(interval/time.Second), uuid.NewString())
	return hex.EncodeToString(h.Sum(nil))
}

// double returns 2*d, saturating at the largest duration
func double(d time.Duration) time.Duration {
	if d > math.MaxInt64/2 {
		return math.MaxInt64
	}
	return d * 2
}

func minutes(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// clearTail zeroes the slots past n so dropped payloads can be collected.
func clearTail(entries []Entry, n int) {
	for i := n; i < len(entries); i++ {
		entries[i] = Entry{}
	}
}
