package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHOTPGenerate(t *testing.T) {
	// RFC 4226 appendix D, counter 1.
	out, err := run(t, "hotp", "generate", "--secret-hex", "3132333435363738393031323334353637383930", "--counter", "1")
	require.NoError(t, err)
	assert.Equal(t, "287082", strings.TrimSpace(out))
}

func TestHOTPGenerateRejectsBadHex(t *testing.T) {
	_, err := run(t, "hotp", "generate", "--secret-hex", "zz")
	assert.Error(t, err)
}

func TestSaltWritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.enc")
	out, err := run(t, "salt", "--vault-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+".salt")

	info, err := os.Stat(path + ".salt")
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = run(t, "salt", "--vault-path", path)
	assert.Error(t, err)
}
