// Package window buckets timestamped categorical entries into fixed-width
// time slots. The same log answers any lookback: a query is a pure filter
// over the stored entries, never a separately maintained aggregate.
package window

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

var ErrInvalidQuery = errors.New("invalid window query")

// Entry is one observation. Weight is optional; entries that carry no
// weight still count towards Count.
type Entry struct {
	At       time.Time
	Category string
	Weight   float64
}

// Query selects [Now-Lookback, Now] and buckets it by BucketWidth. An empty
// Categories filter keeps every category.
type Query struct {
	Now         time.Time
	Lookback    time.Duration
	BucketWidth time.Duration
	Categories  []string
}

// CategoryStat is one row of the flat distribution.
type CategoryStat struct {
	Category  string  `json:"category"`
	Count     int     `json:"count"`
	AvgWeight float64 `json:"avg_weight"`
}

// Bucket is one (slot, category) row of the series; the slot is [Start, End).
type Bucket struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Category  string    `json:"category"`
	Count     int       `json:"count"`
	AvgWeight float64   `json:"avg_weight"`
}

// Result holds the distribution over the whole window and the time series.
// Skipped counts malformed entries that were ignored.
type Result struct {
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	BucketWidth  time.Duration  `json:"bucket_width"`
	Distribution []CategoryStat `json:"distribution"`
	Series       []Bucket       `json:"series"`
	Skipped      int            `json:"skipped"`
}

func (q Query) validate() error {
	if q.BucketWidth <= 0 {
		return errors.Join(ErrInvalidQuery, errors.New("bucket width must be positive"))
	}
	if q.Lookback <= 0 {
		return errors.Join(ErrInvalidQuery, errors.New("lookback must be positive"))
	}
	if q.Now.IsZero() {
		return errors.Join(ErrInvalidQuery, errors.New("now is required"))
	}
	return nil
}

type acc struct {
	count int
	sum   float64
}

func (a acc) avg() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

type slotKey struct {
	start    int64
	category string
}

// Aggregate is the pure aggregation step. Entries may arrive in any order.
func Aggregate(entries []Entry, q Query) (Result, error) {
	if err := q.validate(); err != nil {
		return Result{}, err
	}
	from := q.Now.Add(-q.Lookback)
	res := Result{From: from, To: q.Now, BucketWidth: q.BucketWidth}

	var keep map[string]bool
	if len(q.Categories) > 0 {
		keep = make(map[string]bool, len(q.Categories))
		for _, c := range q.Categories {
			keep[c] = true
		}
	}

	dist := map[string]*acc{}
	slots := map[slotKey]*acc{}
	for _, e := range entries {
		if e.At.IsZero() || e.Category == "" || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
			res.Skipped++
			continue
		}
		if e.At.Before(from) || e.At.After(q.Now) {
			continue
		}
		if keep != nil && !keep[e.Category] {
			continue
		}
		d := dist[e.Category]
		if d == nil {
			d = &acc{}
			dist[e.Category] = d
		}
		d.count++
		d.sum += e.Weight

		k := slotKey{start: e.At.Truncate(q.BucketWidth).UnixNano(), category: e.Category}
		s := slots[k]
		if s == nil {
			s = &acc{}
			slots[k] = s
		}
		s.count++
		s.sum += e.Weight
	}

	res.Distribution = make([]CategoryStat, 0, len(dist))
	for cat, a := range dist {
		res.Distribution = append(res.Distribution, CategoryStat{Category: cat, Count: a.count, AvgWeight: a.avg()})
	}
	sort.Slice(res.Distribution, func(i, j int) bool {
		if res.Distribution[i].Count != res.Distribution[j].Count {
			return res.Distribution[i].Count > res.Distribution[j].Count
		}
		return res.Distribution[i].Category < res.Distribution[j].Category
	})

	res.Series = make([]Bucket, 0, len(slots))
	for k, a := range slots {
		start := time.Unix(0, k.start).In(q.Now.Location())
		res.Series = append(res.Series, Bucket{
			Start:     start,
			End:       start.Add(q.BucketWidth),
			Category:  k.category,
			Count:     a.count,
			AvgWeight: a.avg(),
		})
	}
	sort.Slice(res.Series, func(i, j int) bool {
		if !res.Series[i].Start.Equal(res.Series[j].Start) {
			return res.Series[i].Start.Before(res.Series[j].Start)
		}
		return res.Series[i].Category < res.Series[j].Category
	})
	return res, nil
}

// Log is an append-only, time-ordered, concurrency-safe entry log. Entries
// older than the retention horizon (relative to the newest entry) are
// dropped on append; zero retention keeps everything.
type Log struct {
	mu        sync.RWMutex
	entries   []Entry
	retention time.Duration
	skipped   int
}

func NewLog(retention time.Duration) *Log {
	return &Log{retention: retention}
}

// Append inserts e keeping the log sorted by time. Out-of-order entries are
// placed where they belong. Malformed entries are counted and dropped; the
// return value reports whether e was stored.
func (l *Log) Append(e Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.At.IsZero() || e.Category == "" || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
		l.skipped++
		return false
	}
	n := len(l.entries)
	if n == 0 || !e.At.Before(l.entries[n-1].At) {
		l.entries = append(l.entries, e)
	} else {
		i := sort.Search(n, func(i int) bool { return l.entries[i].At.After(e.At) })
		l.entries = append(l.entries, Entry{})
		copy(l.entries[i+1:], l.entries[i:])
		l.entries[i] = e
	}
	l.trimLocked()
	return true
}

func (l *Log) trimLocked() {
	if l.retention <= 0 || len(l.entries) == 0 {
		return
	}
	horizon := l.entries[len(l.entries)-1].At.Add(-l.retention)
	cut := sort.Search(len(l.entries), func(i int) bool { return !l.entries[i].At.Before(horizon) })
	if cut > 0 {
		l.entries = append(l.entries[:0:0], l.entries[cut:]...)
	}
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Query aggregates the entries inside the query window. Only the window's
// slice of the log is copied out under the read lock.
func (l *Log) Query(q Query) (Result, error) {
	if err := q.validate(); err != nil {
		return Result{}, err
	}
	from := q.Now.Add(-q.Lookback)
	l.mu.RLock()
	lo := sort.Search(len(l.entries), func(i int) bool { return !l.entries[i].At.Before(from) })
	hi := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].At.After(q.Now) })
	var view []Entry
	if lo < hi {
		view = make([]Entry, hi-lo)
		copy(view, l.entries[lo:hi])
	}
	skipped := l.skipped
	l.mu.RUnlock()
	res, err := Aggregate(view, q)
	if err != nil {
		return Result{}, err
	}
	res.Skipped += skipped
	return res, nil
}
