package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteAndFlush(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	type rec struct {
		Venue string  `json:"venue"`
		Score float64 `json:"score"`
	}

	require.NoError(t, w.Write("decisions", rec{Venue: "strike", Score: 0.12}))
	require.NoError(t, w.Write("decisions", rec{Venue: "hyperliquid", Score: 0.34}))
	require.NoError(t, w.Flush())

	path := filepath.Join(dir, "decisions-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []rec
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r rec
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "strike", lines[0].Venue)
	assert.Equal(t, "hyperliquid", lines[1].Venue)
}

func TestWriter_FlushFailureKeepsOtherCategories(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	day := time.Now().UTC().Format("2006-01-02")
	// A directory at the decisions path makes that category's append fail
	// while shadow stays writable.
	blocked := filepath.Join(dir, "decisions-"+day+".jsonl")
	require.NoError(t, os.Mkdir(blocked, 0o755))

	require.NoError(t, w.Write("decisions", map[string]string{"k": "d"}))
	require.NoError(t, w.Write("shadow", map[string]string{"k": "s"}))

	err = w.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decisions")

	// The healthy category was written despite the failure.
	data, err := os.ReadFile(filepath.Join(dir, "shadow-"+day+".jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"k":"s"`)

	// The failed batch stays queued and lands once the path clears.
	require.NoError(t, os.Remove(blocked))
	require.NoError(t, w.Flush())
	data, err = os.ReadFile(blocked)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"k":"d"`)
}

func TestWriter_SeparateCategories(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.Write("decisions", map[string]string{"k": "d"}))
	require.NoError(t, w.Write("shadow", map[string]string{"k": "s"}))
	require.NoError(t, w.Close())

	day := time.Now().UTC().Format("2006-01-02")
	_, err = os.Stat(filepath.Join(dir, "decisions-"+day+".jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "shadow-"+day+".jsonl"))
	assert.NoError(t, err)
}
