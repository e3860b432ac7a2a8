package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RequiresURLAndPath(t *testing.T) {
	err := Snapshot(context.Background(), Options{OutputPath: "/tmp/x.png"})
	assert.EqualError(t, err, "capture: URL is required")

	err = Snapshot(context.Background(), Options{URL: "http://127.0.0.1:8080/"})
	assert.EqualError(t, err, "capture: OutputPath is required")
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:8080/", OutputPath: "out.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeout, o.Timeout)
	assert.NotEmpty(t, o.AllocatorOptions)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.png")
	require.NoError(t, writeFileAtomic(path, []byte("first")))
	require.NoError(t, writeFileAtomic(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}
