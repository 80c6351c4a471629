package runtimeenv_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solarwatch/growattproxy/internal/runtimeenv"
)

func TestLoadEnvSimple(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nexport FOO=bar\nBAZ=qux\n"), 0o644))

	t.Setenv("FOO", "")
	t.Setenv("BAZ", "")
	require.NoError(t, runtimeenv.LoadEnv(path))

	require.Equal(t, "bar", os.Getenv("FOO"))
	require.Equal(t, "qux", os.Getenv("BAZ"))
}

func TestLoadEnvQuotedEscapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`GREETING="hello\nworld"`+"\n"), 0o644))

	t.Setenv("GREETING", "")
	require.NoError(t, runtimeenv.LoadEnv(path))
	require.Equal(t, "hello\nworld", os.Getenv("GREETING"))
}

func TestLoadEnvRejectsMidlineComment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOO=bar # trailing\n"), 0o644))

	require.Error(t, runtimeenv.LoadEnv(path))
}

func TestLoadEnvMissingFile(t *testing.T) {
	require.Error(t, runtimeenv.LoadEnv(filepath.Join(t.TempDir(), "missing")))
}

func TestDropPrivilegesNoop(t *testing.T) {
	require.NoError(t, runtimeenv.DropPrivileges("", ""))
}

func TestSystemdNotifyNoopWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	runtimeenv.SystemdNotify(true, "running")
}
