// Package session keeps the browser's cookies across driver restarts so a
// recovered session does not have to log in again.
package session

import (
	"context"
	"os"

	"github.com/gorilla/securecookie"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/driver"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/fsutil"
)

const codecName = "shiftsched_session"

// Vault stores cookies encrypted and authenticated with securecookie.
// A Vault built without keys is disabled and every call is a no-op.
type Vault struct {
	fs    afero.Fs
	path  string
	codec *securecookie.SecureCookie
	log   *zap.SugaredLogger
}

// NewVault returns a vault writing to path. Empty keys disable it. The hash
// key must be 32 or 64 bytes and the block key 16, 24 or 32 bytes.
func NewVault(fs afero.Fs, path string, hashKey, blockKey []byte, log *zap.SugaredLogger) (*Vault, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	v := &Vault{fs: fs, path: path, log: log}
	if len(hashKey) == 0 && len(blockKey) == 0 {
		return v, nil
	}
	if len(hashKey) != 32 && len(hashKey) != 64 {
		return nil, errors.InvalidConfigf("session hash key must be 32 or 64 bytes, got %d", len(hashKey))
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return nil, errors.InvalidConfigf("session block key must be 16, 24 or 32 bytes, got %d", len(blockKey))
	}
	if path == "" {
		return nil, errors.InvalidConfigf("session path is required when keys are set")
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	// Browser cookie jars outgrow the 4KB cookie default.
	codec.MaxLength(0)
	codec.MaxAge(0)
	v.codec = codec
	return v, nil
}

// Enabled reports whether the vault has keys.
func (v *Vault) Enabled() bool { return v != nil && v.codec != nil }

// Save snapshots the driver's cookies.
func (v *Vault) Save(ctx context.Context, d driver.Driver) error {
	if !v.Enabled() {
		return nil
	}
	cookies, err := d.Cookies(ctx)
	if err != nil {
		return errors.Wrap(err, "read browser cookies")
	}
	encoded, err := v.codec.Encode(codecName, cookies)
	if err != nil {
		return errors.Wrap(err, "encrypt session")
	}
	if err := fsutil.WriteFileAtomic(v.fs, v.path, []byte(encoded), 0o600); err != nil {
		return errors.Wrap(err, "write session")
	}
	v.log.Debugw("session saved", "cookies", len(cookies), "path", v.path)
	return nil
}

// Restore loads saved cookies into the driver and returns how many were
// accepted. A missing file restores nothing. A file that cannot be
// decrypted is removed and also restores nothing.
func (v *Vault) Restore(ctx context.Context, d driver.Driver) (int, error) {
	if !v.Enabled() {
		return 0, nil
	}
	cookies, err := v.load()
	if err != nil {
		if errors.IsNotFound(err) {
			return 0, nil
		}
		if errors.Is(err, errors.ErrCorrupt) {
			v.log.Warnw("discarding unreadable session", "path", v.path, "error", err)
			if rmErr := v.fs.Remove(v.path); rmErr != nil && !os.IsNotExist(rmErr) {
				v.log.Warnw("remove session file", "error", rmErr)
			}
			return 0, nil
		}
		return 0, err
	}

	restored := 0
	for _, c := range cookies {
		if err := d.AddCookie(ctx, c); err != nil {
			v.log.Debugw("cookie rejected", "name", c.Name, "domain", c.Domain, "error", err)
			continue
		}
		restored++
	}
	v.log.Infow("session restored", "cookies", restored, "saved", len(cookies))
	return restored, nil
}

func (v *Vault) load() ([]driver.Cookie, error) {
	data, err := afero.ReadFile(v.fs, v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Mark(errors.Wrap(err, "read session"), errors.ErrNotFound)
		}
		return nil, errors.Wrap(err, "read session")
	}
	var cookies []driver.Cookie
	if err := v.codec.Decode(codecName, string(data), &cookies); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decrypt session"), errors.ErrCorrupt)
	}
	return cookies, nil
}

// Clear removes the saved session.
func (v *Vault) Clear() error {
	if !v.Enabled() {
		return nil
	}
	if err := v.fs.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session")
	}
	return nil
}
