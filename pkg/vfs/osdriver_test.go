package vfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOSDriverWriteReadRoundtrip(t *testing.T) {
	base := t.TempDir()
	drv, err := NewOSDriver(base)
	require.NoError(t, err)
	v := New()
	v.Mount("/host", drv)

	require.NoError(t, v.WriteFile("/host/a.txt", []byte("hi\n"), root()))
	data, err := v.ReadFile("/host/a.txt", root())
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data))

	_, err = os.Stat(filepath.Join(base, "a.txt"))
	require.NoError(t, err, "expected file on host disk")
}

func TestOSDriverMkdirAndReadDir(t *testing.T) {
	base := t.TempDir()
	drv, err := NewOSDriver(base)
	require.NoError(t, err)
	v := New()
	v.Mount("/host", drv)

	require.NoError(t, v.Mkdir("/host/a/b", true, root()))
	names, err := v.ReadDir("/host/a")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, names)

	st, err := v.Stat("/host/a")
	require.NoError(t, err)
	require.Equal(t, TypeDir, st.Type)
}

func TestOSDriverUnlinkAndRmdir(t *testing.T) {
	base := t.TempDir()
	drv, err := NewOSDriver(base)
	require.NoError(t, err)
	v := New()
	v.Mount("/host", drv)

	require.NoError(t, v.WriteFile("/host/f", []byte("x"), root()))
	require.NoError(t, v.Unlink("/host/f"))
	require.False(t, v.Exists("/host/f"))

	require.NoError(t, v.Mkdir("/host/d", false, root()))
	require.NoError(t, v.Rmdir("/host/d"))
	require.False(t, v.Exists("/host/d"))
}

func TestOSDriverChmodReflectsOnHost(t *testing.T) {
	base := t.TempDir()
	drv, err := NewOSDriver(base)
	require.NoError(t, err)
	v := New()
	v.Mount("/host", drv)

	require.NoError(t, v.WriteFile("/host/f", []byte("x"), root()))
	require.NoError(t, v.Chmod("/host/f", ModeUserRead))

	info, err := os.Stat(filepath.Join(base, "f"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0400), info.Mode().Perm())
}

func TestNewOSDriverRejectsFile(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "notadir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := NewOSDriver(file)
	require.ErrorIs(t, err, ErrNotDir)
}
