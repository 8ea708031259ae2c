package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gentam/norstore/preset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSession(t *testing.T, path string) (*target, *session) {
	t.Helper()
	tg, err := openImage(path, slog.Default())
	require.NoError(t, err)
	s, err := openSession(tg)
	require.NoError(t, err)
	return tg, s
}

func TestImageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chip.bin")

	tg, s := openTestSession(t, path)
	s.tasks.Suspend()
	s.bank.Active().Spread = 9
	s.tasks.Resume()
	require.NoError(t, runBatch(s.bank, []string{"store", "3", "recall", "3"}))
	s.stop()
	require.NoError(t, tg.Close())

	img, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, img, 2<<20)

	tg, s = openTestSession(t, path)
	defer s.stop()
	assert.Equal(t, 3, s.bank.Slot())
	assert.Equal(t, uint8(9), s.bank.Active().Spread)
	require.NoError(t, tg.Close())
}

func TestReadOnlyImageNotWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.bin")
	tg, err := openImage(path, slog.Default())
	require.NoError(t, err)
	_, err = tg.Flash.Read(0, 16)
	require.NoError(t, err)
	require.NoError(t, tg.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRunBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chip.bin")
	_, s := openTestSession(t, path)
	defer s.stop()

	require.NoError(t, runBatch(s.bank, []string{"store", "4", "clear", "4", "undo"}))
	assert.True(t, s.bank.Presets().IsFilled(4))

	assert.Error(t, runBatch(s.bank, []string{"store"}))
	assert.Error(t, runBatch(s.bank, []string{"store", "x"}))
	assert.Error(t, runBatch(s.bank, []string{"swap", "1"}))
}

func TestListPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chip.bin")
	_, s := openTestSession(t, path)
	defer s.stop()
	require.NoError(t, runBatch(s.bank, []string{"store", "1"}))

	var buf bytes.Buffer
	require.NoError(t, listPresets(&buf, s.bank))
	out := buf.String()
	assert.Contains(t, out, "0x002800")
	assert.Contains(t, out, preset.Current.String())
	assert.Contains(t, out, "startup")
}
