package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagedrop/internal/ids"
	"imagedrop/internal/storage"
)

type fakeLookup struct {
	known map[string]bool
	err   error
}

func (f fakeLookup) Exists(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[id], nil
}

func newStore(t *testing.T) *storage.DiskStore {
	t.Helper()
	store, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Ensure(context.Background()))
	return store
}

func putBlob(t *testing.T, store *storage.DiskStore, key string, age time.Duration) {
	t.Helper()
	_, err := store.Put(context.Background(), key, strings.NewReader("bytes"), -1, "")
	require.NoError(t, err)
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(filepath.Join(store.Root(), key), mtime, mtime))
}

func keys(t *testing.T, store *storage.DiskStore) []string {
	t.Helper()
	var out []string
	require.NoError(t, store.Walk(context.Background(), func(info storage.ObjectInfo) error {
		out = append(out, info.Key)
		return nil
	}))
	return out
}

func TestSweepDeletesOnlyOldUnreferencedBlobs(t *testing.T) {
	store := newStore(t)
	referenced, orphan, young := ids.New(), ids.New(), ids.New()

	putBlob(t, store, referenced+".png", 2*time.Hour)
	putBlob(t, store, orphan+".jpg", 2*time.Hour)
	putBlob(t, store, young+".webp", time.Minute)
	putBlob(t, store, "README.txt", 2*time.Hour)

	p := NewProcessor(fakeLookup{known: map[string]bool{referenced: true}}, store, time.Hour, zerolog.Nop())
	result, err := p.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Scanned)
	assert.Equal(t, 1, result.Young)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, int64(len("bytes")), result.ReclaimedBytes)
	assert.ElementsMatch(t, []string{referenced + ".png", young + ".webp", "README.txt"}, keys(t, store))
}

func TestSweepRemovesStaleStagingFiles(t *testing.T) {
	store := newStore(t)
	stale := filepath.Join(store.Root(), ".tmp", "put-crashed")
	fresh := filepath.Join(store.Root(), ".tmp", "put-writing")
	for path, age := range map[string]time.Duration{stale: 3 * time.Hour, fresh: time.Second} {
		require.NoError(t, os.WriteFile(path, []byte("partial"), 0o600))
		mtime := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	p := NewProcessor(fakeLookup{}, store, time.Hour, zerolog.Nop())
	result, err := p.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.StagingRemoved)
	assert.Zero(t, result.Scanned)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestSweepStopsOnLookupFailure(t *testing.T) {
	store := newStore(t)
	putBlob(t, store, ids.New()+".png", 2*time.Hour)

	p := NewProcessor(fakeLookup{err: errors.New("db down")}, store, time.Hour, zerolog.Nop())
	_, err := p.Sweep(context.Background())
	require.Error(t, err)
	assert.Len(t, keys(t, store), 1)
}

func TestHandleOrphanTask(t *testing.T) {
	store := newStore(t)
	orphan, kept := ids.New(), ids.New()
	putBlob(t, store, orphan+".png", 0)
	putBlob(t, store, kept+".png", 0)

	p := NewProcessor(fakeLookup{known: map[string]bool{kept: true}}, store, time.Hour, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{orphan, kept} {
		err := p.Handle(ctx, redis.XMessage{ID: "1-0", Values: map[string]interface{}{
			"type":     "orphan",
			"imageId":  id,
			"location": id + ".png",
		}})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{kept + ".png"}, keys(t, store))
}

func TestHandleOrphanTaskIgnoresMismatchedLocation(t *testing.T) {
	store := newStore(t)
	victim := ids.New()
	putBlob(t, store, victim+".png", 0)

	p := NewProcessor(fakeLookup{}, store, time.Hour, zerolog.Nop())
	err := p.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		"type":     "orphan",
		"imageId":  ids.New(),
		"location": victim + ".png",
	}})
	require.NoError(t, err)
	assert.Len(t, keys(t, store), 1)
}

func TestHandleSweepAndUnknownTasks(t *testing.T) {
	store := newStore(t)
	orphan := ids.New()
	putBlob(t, store, orphan+".webp", 3*time.Hour)

	p := NewProcessor(fakeLookup{}, store, time.Hour, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, redis.XMessage{ID: "1-0", Values: map[string]interface{}{"type": "thumbnail"}}))
	assert.Len(t, keys(t, store), 1)

	require.NoError(t, p.Handle(ctx, redis.XMessage{ID: "2-0", Values: map[string]interface{}{"type": "sweep"}}))
	assert.Empty(t, keys(t, store))

	require.Error(t, p.Handle(ctx, redis.XMessage{ID: "3-0", Values: map[string]interface{}{}}))
}
