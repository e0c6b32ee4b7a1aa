package notify

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-scheduler/internal/errors"
)

type recordingSender struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSender) Send(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSender) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Title)
	}
	return out
}

func fallbackLines(t *testing.T, fs afero.Fs) []fallbackLine {
	t.Helper()
	data, err := afero.ReadFile(fs, "failures.log")
	if err != nil {
		return nil
	}
	var out []fallbackLine
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var l fallbackLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		out = append(out, l)
	}
	return out
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, nil)

	d.Notify(Event{Kind: KindStartup, Title: "one"})
	d.Notify(Event{Kind: KindBooked, Title: "two"})
	d.Close(context.Background())

	assert.Equal(t, []string{"one", "two"}, sender.titles())
	assert.False(t, sender.events[0].At.IsZero(), "timestamp filled in")
}

func TestDispatcherFallsBackOnFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	sender := &recordingSender{err: errors.New("connection refused")}
	d := NewDispatcher(sender, NewFallback(fs, "failures.log", nil))

	d.Notify(Event{Kind: KindCritical, Title: "driver down", Urgent: true})
	d.Close(context.Background())

	lines := fallbackLines(t, fs)
	require.Len(t, lines, 1)
	assert.Equal(t, "driver down", lines[0].Title)
	assert.Equal(t, "connection refused", lines[0].Error)
	assert.True(t, lines[0].Urgent)
}

func TestDispatcherAfterCloseGoesToFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewDispatcher(&recordingSender{}, NewFallback(fs, "failures.log", nil))
	d.Close(context.Background())
	d.Close(context.Background())

	d.Notify(Event{Kind: KindShutdown, Title: "late"})

	lines := fallbackLines(t, fs)
	require.Len(t, lines, 1)
	assert.Equal(t, "dispatcher closed", lines[0].Error)
}

// blockingSender parks every send until released or cancelled.
type blockingSender struct {
	started chan string
	release chan struct{}
}

func (s *blockingSender) Send(ctx context.Context, e Event) error {
	s.started <- e.Title
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	fs := afero.NewMemMapFs()
	sender := &blockingSender{started: make(chan string, 4), release: make(chan struct{})}
	d := NewDispatcher(sender, NewFallback(fs, "failures.log", nil), WithQueueSize(1))

	d.Notify(Event{Title: "in flight"})
	assert.Equal(t, "in flight", <-sender.started)
	d.Notify(Event{Title: "queued"})
	d.Notify(Event{Title: "overflow"})

	lines := fallbackLines(t, fs)
	require.Len(t, lines, 1)
	assert.Equal(t, "overflow", lines[0].Title)
	assert.Equal(t, "notification queue full", lines[0].Error)

	close(sender.release)
	d.Close(context.Background())
	assert.Equal(t, "queued", <-sender.started)
}

func TestDispatcherCloseDeadlineCancelsSends(t *testing.T) {
	fs := afero.NewMemMapFs()
	sender := &blockingSender{started: make(chan string, 4), release: make(chan struct{})}
	d := NewDispatcher(sender, NewFallback(fs, "failures.log", nil), WithSendTimeout(time.Minute))

	d.Notify(Event{Title: "stuck"})
	<-sender.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Close(ctx)

	assert.Less(t, time.Since(start), 5*time.Second)
	lines := fallbackLines(t, fs)
	require.Len(t, lines, 1)
	assert.Equal(t, "stuck", lines[0].Title)
}

func TestSendTimeoutBoundsDelivery(t *testing.T) {
	fs := afero.NewMemMapFs()
	sender := &blockingSender{started: make(chan string, 1), release: make(chan struct{})}
	d := NewDispatcher(sender, NewFallback(fs, "failures.log", nil), WithSendTimeout(10*time.Millisecond))

	d.Notify(Event{Title: "slow"})
	d.Close(context.Background())

	lines := fallbackLines(t, fs)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Error, "deadline exceeded")
}

func TestLogSender(t *testing.T) {
	assert.Error(t, LogSender{}.Send(context.Background(), Event{}))
}
