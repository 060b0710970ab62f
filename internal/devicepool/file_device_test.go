package devicepool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeviceOpenReadClose(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sample.ts")
	require.NoError(t, os.WriteFile(src, []byte("hello-mpeg-ts-bytes"), 0o644))

	d := NewFileDevice(src)
	ctx := context.Background()
	require.NoError(t, d.Open(ctx))
	defer d.Close()

	buf := make([]byte, 5)
	n, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestFileDeviceReadLoops(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sample.ts")
	require.NoError(t, os.WriteFile(src, []byte("abc"), 0o644))

	d := NewFileDevice(src)
	require.NoError(t, d.Open(context.Background()))
	defer d.Close()

	buf := make([]byte, 3)
	_, err := d.Read(buf)
	require.NoError(t, err)
	n2, err := d.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n2)
	assert.Equal(t, "abc", string(buf))
}

func TestFileDeviceBusyRetry(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "sample.ts")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	d := NewFileDevice(src)
	d.SetBusyCount(2)

	assert.ErrorIs(t, d.SetChannel("BBC1"), ErrBusy)
	assert.ErrorIs(t, d.SetChannel("BBC1"), ErrBusy)
	assert.NoError(t, d.SetChannel("BBC1"))
	assert.Equal(t, "BBC1", d.Channel())
}
