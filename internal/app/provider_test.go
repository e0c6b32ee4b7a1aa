package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-scheduler/internal/action"
	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/driver/drivertest"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/ledger"
	"github.com/example/shift-scheduler/internal/session"
	"github.com/example/shift-scheduler/internal/shift"
	"github.com/example/shift-scheduler/internal/site"
	"github.com/example/shift-scheduler/internal/workflow"
)

const searchURL = "https://hiring.example.com/app#/jobSearch"

type fixture struct {
	fs      afero.Fs
	drivers []*drivertest.Fake
	failNew error
	vault   *session.Vault
	prov    *Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{fs: afero.NewMemMapFs()}
	v, err := session.NewVault(f.fs, "session.dat", bytes.Repeat([]byte{7}, 32), bytes.Repeat([]byte{9}, 32), nil)
	require.NoError(t, err)
	f.vault = v

	profile := site.DefaultProfile(searchURL)
	profile.SettleDelay = 0
	f.prov = NewProvider(Options{
		NewDriver: func(context.Context) (driver.Driver, error) {
			if f.failNew != nil {
				return nil, f.failNew
			}
			d := drivertest.New()
			f.drivers = append(f.drivers, d)
			return d, nil
		},
		Profile:     profile,
		Ledger:      ledger.Open(f.fs, "ledger.json"),
		Vault:       v,
		ExecOptions: []action.Option{action.WithAttemptDelay(0)},
	})
	return f
}

func TestAcquireCachesUntilDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1, err := f.prov.Acquire(ctx)
	require.NoError(t, err)
	r2, err := f.prov.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, r1, r2)
	require.Len(t, f.drivers, 1)

	require.NoError(t, f.prov.Discard(ctx))
	assert.True(t, f.drivers[0].Closed)
	require.NoError(t, f.prov.Discard(ctx), "second discard is a no-op")

	r3, err := f.prov.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, r1, r3)
	assert.Len(t, f.drivers, 2)
}

func TestAcquireFailure(t *testing.T) {
	f := newFixture(t)
	f.failNew = errors.New("connection refused")

	_, err := f.prov.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start browser")
}

func TestRunSavesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r, err := f.prov.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.drivers[0].AddCookie(ctx, driver.Cookie{Name: "sid", Value: "abc"}))

	out, err := r.Run(ctx, shift.Partition{}, "c1")
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeNoCandidates, out.Kind)

	exists, err := afero.Exists(f.fs, "session.dat")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSessionRestoredOnNextDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.prov.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, f.drivers[0].AddCookie(ctx, driver.Cookie{Name: "sid", Value: "abc"}))
	require.NoError(t, f.prov.Discard(ctx))

	_, err = f.prov.Acquire(ctx)
	require.NoError(t, err)

	fresh := f.drivers[1]
	cookies, err := fresh.Cookies(ctx)
	require.NoError(t, err)
	assert.Equal(t, []driver.Cookie{{Name: "sid", Value: "abc"}}, cookies)
	assert.Equal(t, []string{searchURL}, fresh.Navigations)
}

func TestNoFactory(t *testing.T) {
	_, err := NewProvider(Options{}).Acquire(context.Background())
	assert.True(t, errors.IsInvalidConfig(err))
}
