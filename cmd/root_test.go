package cmd

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shift-scheduler/internal/auth"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	flags = rootFlags{}
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "shiftsched.yaml")
	body = strings.ReplaceAll(body, "$DIR", dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return dir, path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "shiftsched dev (commit=none, built=unknown)\n", out)
}

func TestKeysPrintsUsableKeys(t *testing.T) {
	out, err := execute(t, "", "keys")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for i, prefix := range []string{"export SHIFTSCHED_SESSION_HASH_KEY=", "export SHIFTSCHED_SESSION_BLOCK_KEY="} {
		require.True(t, strings.HasPrefix(lines[i], prefix), lines[i])
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(lines[i], prefix))
		require.NoError(t, err)
		assert.Len(t, key, 32)
	}
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := execute(t, "s3cret\n", "hash-password")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(strings.TrimSpace(out), "s3cret"))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := execute(t, "\n", "hash-password")
	require.Error(t, err)
}

func TestConfigMasksSecrets(t *testing.T) {
	_, path := writeConfig(t, `
daily_booking_limit: 3
ledger_path: $DIR/ledger.json
notify:
  webhook_url: https://chat.example/hooks/abc
`)
	out, err := execute(t, "", "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "daily_booking_limit: 3")
	assert.Contains(t, out, "webhook_url: <redacted>")
	assert.NotContains(t, out, "hooks/abc")
}

func TestConfigRejectsInvalidFile(t *testing.T) {
	_, path := writeConfig(t, "daily_booking_limit: 0\n")
	_, err := execute(t, "", "config", "--config", path)
	require.Error(t, err)
}

func TestLedgerResetNeedsConfirmation(t *testing.T) {
	_, err := execute(t, "", "ledger", "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing")
}

func TestLedgerShowAndReset(t *testing.T) {
	dir, path := writeConfig(t, "ledger_path: $DIR/ledger.json\ndaily_booking_limit: 4\n")

	out, err := execute(t, "", "ledger", "reset", "--yes", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "ledger.json"))

	out, err = execute(t, "", "ledger", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0 of 4 booked")
}

func TestRunRequiresSearchURL(t *testing.T) {
	_, path := writeConfig(t, "ledger_path: $DIR/ledger.json\n")
	_, err := execute(t, "", "run", "--config", path)
	require.Error(t, err)
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	_, path := writeConfig(t, "ledger_path: $DIR/ledger.json\n")
	_, err := execute(t, "", "migrate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestKeysRejectsBadBlockSize(t *testing.T) {
	_, err := execute(t, "", "keys", "--block-size", "20")
	require.Error(t, err)
}
