package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brbranch/parmira/internal/model"
)

type recordingHistory struct {
	mu   sync.Mutex
	ids  []string
	docs map[string]map[string]string
	fail bool
}

func (h *recordingHistory) Put(_ context.Context, id, text string, metadata map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("vector store down")
	}
	if h.docs == nil {
		h.docs = map[string]map[string]string{}
	}
	h.ids = append(h.ids, id)
	meta := map[string]string{"text": text}
	for k, v := range metadata {
		meta[k] = v
	}
	h.docs[id] = meta
	return nil
}

func writeFile(t *testing.T, path, content string, modified time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, modified, modified))
}

// tickingClock は呼ばれるたびに1秒進む
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newIndexer(t *testing.T, cfg model.IndexerConfig, opts ...Option) *Indexer {
	t.Helper()
	ix, err := Open(context.Background(), cfg, filepath.Join(t.TempDir(), "db", "system.db"), opts...)
	require.NoError(t, err)
	ix.now = tickingClock(time.Unix(1700000000, 0))
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestIndexSystem_UpsertsAndSkips(t *testing.T) {
	root := t.TempDir()
	base := time.Unix(1690000000, 0)
	writeFile(t, filepath.Join(root, "notes.txt"), "hello", base)
	writeFile(t, filepath.Join(root, "sub", "report.MD"), "# report", base.Add(time.Hour))
	writeFile(t, filepath.Join(root, "driver.SYS"), "bin", base)

	ix := newIndexer(t, model.IndexerConfig{
		Roots:          []string{root, filepath.Join(root, "missing")},
		SkipExtensions: []string{".SYS", "dll"},
	})

	summary, err := ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 2, summary.Upserted)
	assert.Equal(t, 0, summary.Removed)
	assert.Equal(t, 0, summary.Appended)

	recent, err := ix.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "report.MD", recent[0].Name)
	assert.Equal(t, ".md", recent[0].Extension)
	assert.Equal(t, int64(8), recent[0].Size)
	assert.Equal(t, base.Add(time.Hour).Unix(), recent[0].LastModified.Unix())
	assert.Equal(t, "notes.txt", recent[1].Name)

	// 変更のない2回目は何も更新しない
	summary, err = ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Seen)
	assert.Equal(t, 0, summary.Upserted)
}

func TestIndexSystem_RemovesStaleRows(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "a", time.Unix(1690000000, 0))
	gone := filepath.Join(root, "gone.txt")
	writeFile(t, gone, "b", time.Unix(1690000000, 0))

	ix := newIndexer(t, model.IndexerConfig{Roots: []string{root}})
	_, err := ix.IndexSystem(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	summary, err := ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Seen)
	assert.Equal(t, 1, summary.Removed)

	files, err := ix.SearchByName(context.Background(), "gone", 0)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIndexSystem_AppendsHistoryForChangedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "todo.txt")
	writeFile(t, path, "one", time.Unix(1690000000, 0))

	history := &recordingHistory{}
	ix := newIndexer(t, model.IndexerConfig{Roots: []string{root}, History: true}, WithHistory(history))

	summary, err := ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Appended)
	require.Len(t, history.ids, 1)

	id := history.ids[0]
	assert.Equal(t, path+"::1700000001000", id)
	assert.Equal(t, "todo.txt", history.docs[id]["text"])
	assert.Equal(t, path, history.docs[id]["path"])
	assert.Equal(t, ".txt", history.docs[id]["extension"])
	assert.Equal(t, "1690000000", history.docs[id]["last_modified"])

	// 未変更はスキップ
	summary, err = ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Appended)
	assert.Len(t, history.ids, 1)

	// 更新されたら追記される
	writeFile(t, path, "one two", time.Unix(1690000500, 0))
	summary, err = ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Appended)
	assert.Len(t, history.ids, 2)
}

func TestIndexSystem_HistoryFailureIsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a", time.Unix(1690000000, 0))

	ix := newIndexer(t, model.IndexerConfig{Roots: []string{root}}, WithHistory(&recordingHistory{fail: true}))
	summary, err := ix.IndexSystem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Upserted)
	assert.Equal(t, 0, summary.Appended)
}

func TestIndexSystem_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a", time.Unix(1690000000, 0))

	ix := newIndexer(t, model.IndexerConfig{Roots: []string{root}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ix.IndexSystem(ctx)
	assert.Error(t, err)
}

func TestSearchByName(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"budget_2024.xlsx", "budget-old.xlsx", "photo.jpg", "50%off.txt"} {
		writeFile(t, filepath.Join(root, name), name, time.Unix(1690000000, 0))
	}
	ix := newIndexer(t, model.IndexerConfig{Roots: []string{root}})
	_, err := ix.IndexSystem(context.Background())
	require.NoError(t, err)

	files, err := ix.SearchByName(context.Background(), "budget", 0)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// LIKEのワイルドカードは文字として扱う
	files, err = ix.SearchByName(context.Background(), "_", 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "budget_2024.xlsx", files[0].Name)

	files, err = ix.SearchByName(context.Background(), "%", 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "50%off.txt", files[0].Name)

	files, err = ix.SearchByName(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestRunPeriodic_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a", time.Unix(1690000000, 0))
	ix := newIndexer(t, model.IndexerConfig{Roots: []string{root}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.RunPeriodic(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		files, err := ix.ListRecent(context.Background(), 10)
		return err == nil && len(files) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, ".sys", normalizeExt(".SYS"))
	assert.Equal(t, ".dll", normalizeExt("dll"))
	assert.Equal(t, "", normalizeExt(""))
}

func TestFingerprint(t *testing.T) {
	m := time.Unix(1690000000, 0)
	assert.Equal(t, fingerprint("/a", 1, m), fingerprint("/a", 1, m))
	assert.NotEqual(t, fingerprint("/a", 1, m), fingerprint("/a", 2, m))
	assert.NotEqual(t, fingerprint("/a", 1, m), fingerprint("/a", 1, m.Add(time.Second)))
	assert.Len(t, fingerprint("/a", 1, m), 32)
}
