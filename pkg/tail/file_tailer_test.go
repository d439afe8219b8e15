package tail

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"os"
	"path/filepath"
	"testing"
)

var logger, _ = zap.NewDevelopment()

func appendTo(t *testing.T, path string, content string) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, file.Close())
}

func TestFileTailer_ReadLines(t *testing.T) {
	t.Run("Reads existing content from the start and then only new lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		appendTo(t, path, "first\nsecond\n")
		ft := NewFileTailer(path, 0, logger)

		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, lines)

		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Empty(t, lines)

		appendTo(t, path, "third\r\n")
		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"third"}, lines)
	})

	t.Run("Holds back a partial line until its newline arrives", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		appendTo(t, path, "complete\nhalf a ")
		ft := NewFileTailer(path, 0, logger)

		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"complete"}, lines)

		appendTo(t, path, "line\n")
		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"half a line"}, lines)
	})

	t.Run("Starts over after truncation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		appendTo(t, path, "old line one\nold line two\n")
		ft := NewFileTailer(path, 0, logger)
		_, err := ft.ReadLines()
		require.NoError(t, err)

		require.NoError(t, os.Truncate(path, 0))
		appendTo(t, path, "new\n")
		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"new"}, lines)
	})

	t.Run("Starts over after rotation", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "app.log")
		appendTo(t, path, "before rotation\n")
		ft := NewFileTailer(path, 0, logger)
		_, err := ft.ReadLines()
		require.NoError(t, err)

		require.NoError(t, os.Rename(path, filepath.Join(dir, "app.log.1")))
		appendTo(t, path, "after rotation, a longer first line\n")
		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"after rotation, a longer first line"}, lines)
	})

	t.Run("A missing file yields nothing until it appears", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "later.log")
		ft := NewFileTailer(path, 0, logger)

		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Empty(t, lines)

		appendTo(t, path, "hello\n")
		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"hello"}, lines)
	})

	t.Run("Bounds each read", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		appendTo(t, path, "aaaa\nbbbb\ncccc\n")
		ft := NewFileTailer(path, 10, logger)

		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"aaaa", "bbbb"}, lines)
		assert.Equal(t, int64(10), ft.Offset())

		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"cccc"}, lines)
	})

	t.Run("Emits an oversized line in pieces", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		appendTo(t, path, "0123456789abcdef\n")
		ft := NewFileTailer(path, 8, logger)

		lines, err := ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"01234567"}, lines)
		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{"89abcdef"}, lines)
		lines, err = ft.ReadLines()
		require.NoError(t, err)
		assert.Equal(t, []string{""}, lines)
	})
}
