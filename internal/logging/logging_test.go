package logging

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "run_20240309_140507.log", FileName("run", ts))
}

func TestNewWritesFileAndExtra(t *testing.T) {
	dir := t.TempDir()
	var extra bytes.Buffer
	s, err := New(Options{
		Dir:     dir,
		Name:    "convert",
		Console: io.Discard,
		Extra:   []io.Writer{&extra},
		Now:     func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "convert_20240102_030405.log"), s.Path)
	assert.NotEmpty(t, s.RunID)

	s.Logger.Info().Str("file", "opt.xml").Msg("converting")
	s.Logger.Debug().Msg("hidden at info level")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	content, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "converting")
	assert.Contains(t, string(content), "file=opt.xml")
	assert.Contains(t, string(content), "run_id="+s.RunID)
	assert.NotContains(t, string(content), "hidden at info level")
	assert.NotContains(t, string(content), "\x1b[", "file output has no color codes")

	assert.Contains(t, extra.String(), "converting")
}

func TestNewConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	s, err := New(Options{Console: &console, Level: "debug"})
	require.NoError(t, err)
	assert.Empty(t, s.Path)

	s.Logger.Debug().Msg("visible")
	assert.Contains(t, console.String(), "visible")
	assert.NoError(t, s.Close())
}

func TestNewBadLevel(t *testing.T) {
	_, err := New(Options{Console: io.Discard, Level: "loud"})
	assert.Error(t, err)
}
