// Package ledger keeps the durable record of today's bookings. It is the only
// authority on whether a shift id may be attempted again.
//
// The store is a single JSON document replaced atomically on every change.
// An unreadable or corrupt document is replaced by an empty ledger for the
// current day: the process keeps running at the cost of possibly re-booking
// a shift that was booked earlier that day.
package ledger

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/fsutil"
)

const dayLayout = time.DateOnly

// Entry is one booked shift.
type Entry struct {
	ID       string    `json:"id"`
	BookedAt time.Time `json:"booked_at"`
}

// record is the persisted layout.
type record struct {
	BookedIDs  []string             `json:"booked_ids"`
	DailyCount int                  `json:"daily_count"`
	DayMarker  string               `json:"day_marker"`
	BookedAt   map[string]time.Time `json:"booked_at,omitempty"`
}

// Ledger has a single writer. Reads from other goroutines (status
// reporting) are serialized with a mutex.
type Ledger struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	now  func() time.Time
	loc  *time.Location
	log  *zap.SugaredLogger

	day    string
	count  int
	order  []string
	booked map[string]time.Time
}

type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the zone whose midnight starts a new day.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// Open loads the ledger at path and rolls it over if it belongs to an
// earlier day. It never fails: a missing file starts empty, a corrupt one
// is logged and discarded.
func Open(fs afero.Fs, path string, opts ...Option) *Ledger {
	l := &Ledger{
		fs:     fs,
		path:   path,
		now:    time.Now,
		loc:    time.Local,
		log:    zap.NewNop().Sugar(),
		booked: map[string]time.Time{},
	}
	for _, o := range opts {
		o(l)
	}

	rec, err := l.load()
	switch {
	case err == nil:
		l.apply(rec)
	case errors.Is(err, os.ErrNotExist):
		l.log.Infow("no ledger found, starting empty", "path", path)
		l.day = l.today()
	default:
		l.log.Warnw("ledger unreadable, starting empty for today; a shift booked earlier today may be booked again",
			"path", path, "error", err)
		l.day = l.today()
	}

	l.ResetIfNewDay()
	return l
}

func (l *Ledger) load() (record, error) {
	var rec record
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Mark(errors.Wrap(err, "decode ledger"), errors.ErrCorrupt)
	}
	if _, err := time.Parse(dayLayout, rec.DayMarker); err != nil {
		return rec, errors.Mark(errors.Newf("invalid day_marker %q", rec.DayMarker), errors.ErrCorrupt)
	}
	return rec, nil
}

func (l *Ledger) apply(rec record) {
	l.day = rec.DayMarker
	for _, id := range rec.BookedIDs {
		if _, dup := l.booked[id]; dup || id == "" {
			continue
		}
		l.booked[id] = rec.BookedAt[id]
		l.order = append(l.order, id)
	}
	l.count = len(l.order)
	if rec.DailyCount != l.count {
		l.log.Warnw("ledger count disagrees with entries, using entries",
			"daily_count", rec.DailyCount, "entries", l.count)
	}
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format(dayLayout)
}

// ResetIfNewDay clears every entry when the calendar day changed since the
// ledger was last written. It reports whether a rollover happened and is safe
// to call any number of times.
func (l *Ledger) ResetIfNewDay() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resetIfNewDay()
}

func (l *Ledger) resetIfNewDay() bool {
	today := l.today()
	if l.day == today {
		return false
	}
	l.log.Infow("ledger day rollover, clearing bookings",
		"previous_day", l.day, "previous_count", l.count, "day", today)
	l.clear(today)
	if err := l.persist(); err != nil {
		l.log.Warnw("persist ledger rollover failed", "path", l.path, "error", err)
	}
	return true
}

// IsBooked reports whether id was booked today.
func (l *Ledger) IsBooked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDay()
	_, ok := l.booked[id]
	return ok
}

// RecordBooking adds id and writes the ledger before returning. Recording an
// id that is already booked today changes nothing. When the write fails the
// id stays recorded in memory and the error is returned.
func (l *Ledger) RecordBooking(id string) error {
	if id == "" {
		return errors.New("record booking: empty id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDay()
	if _, ok := l.booked[id]; ok {
		return nil
	}
	l.booked[id] = l.now()
	l.order = append(l.order, id)
	l.count++
	return errors.Wrapf(l.persist(), "record booking %s", id)
}

// CanBookMore reports whether today's count is below limit.
func (l *Ledger) CanBookMore(limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDay()
	return l.count < limit
}

// Reset clears today's bookings and writes the empty ledger.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Infow("ledger reset", "previous_count", l.count)
	l.clear(l.today())
	return errors.Wrap(l.persist(), "reset ledger")
}

func (l *Ledger) clear(day string) {
	l.day = day
	l.count = 0
	l.order = nil
	l.booked = map[string]time.Time{}
}

// DailyCount is the number of bookings recorded today.
func (l *Ledger) DailyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Day is the calendar day the counters apply to.
func (l *Ledger) Day() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.day
}

// Path is the backing file.
func (l *Ledger) Path() string { return l.path }

// Entries lists today's bookings in the order they were recorded.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, Entry{ID: id, BookedAt: l.booked[id]})
	}
	return out
}

func (l *Ledger) persist() error {
	rec := record{
		BookedIDs:  append([]string{}, l.order...),
		DailyCount: l.count,
		DayMarker:  l.day,
		BookedAt:   map[string]time.Time{},
	}
	for _, id := range l.order {
		if at := l.booked[id]; !at.IsZero() {
			rec.BookedAt[id] = at
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	return fsutil.WriteFileAtomic(l.fs, l.path, data, 0o600)
}
