package store_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlog-ai/buildlog/internal/model"
	"github.com/buildlog-ai/buildlog/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleDoc(title string, createdAt time.Time) *model.Document {
	return &model.Document{
		Version: model.SchemaVersion,
		Format:  model.FormatSlim,
		Metadata: model.Metadata{
			ID:        uuid.New(),
			Title:     title,
			CreatedAt: createdAt,
			StepCount: 1,
		},
		Steps: []model.Step{{ID: uuid.New(), Type: model.StepPrompt, Seq: 0, Text: "hello"}},
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	doc := sampleDoc("Round trip", time.Now().UTC())
	require.NoError(t, st.Save(ctx, doc))

	got, err := st.Get(ctx, doc.Metadata.ID.String())
	require.NoError(t, err)
	assert.Equal(t, doc.Metadata.Title, got.Metadata.Title)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "hello", got.Steps[0].Text)

	// Save is an upsert.
	doc.Metadata.Title = "Renamed"
	require.NoError(t, st.Save(ctx, doc))
	got, err = st.Get(ctx, doc.Metadata.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Metadata.Title)
}

func TestGetMissing(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	older := sampleDoc("older", base)
	newer := sampleDoc("newer", base.Add(time.Hour))
	require.NoError(t, st.Save(ctx, older))
	require.NoError(t, st.Save(ctx, newer))

	entries, err := st.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].Title)
	assert.Equal(t, "older", entries[1].Title)
	assert.Equal(t, model.FormatSlim, entries[0].Format)

	entries, err = st.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "newer", entries[0].Title)
}

func TestDeleteCascadesOutbox(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	doc := sampleDoc("to delete", time.Now().UTC())
	require.NoError(t, st.Save(ctx, doc))
	require.NoError(t, st.Enqueue(ctx, doc.Metadata.ID.String()))

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, st.Delete(ctx, doc.Metadata.ID.String()))

	_, err = st.Get(ctx, doc.Metadata.ID.String())
	assert.ErrorIs(t, err, store.ErrNotFound)
	n, err = st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, st.Delete(ctx, doc.Metadata.ID.String()), store.ErrNotFound)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	doc := sampleDoc("queued", time.Now().UTC())
	require.NoError(t, st.Save(ctx, doc))
	require.NoError(t, st.Enqueue(ctx, doc.Metadata.ID.String()))
	require.NoError(t, st.Enqueue(ctx, doc.Metadata.ID.String()))

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNextBatchOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	first := sampleDoc("first", time.Now().UTC())
	second := sampleDoc("second", time.Now().UTC())
	require.NoError(t, st.Save(ctx, first))
	require.NoError(t, st.Enqueue(ctx, first.Metadata.ID.String()))
	time.Sleep(5 * time.Millisecond) // distinct enqueue instants
	require.NoError(t, st.Save(ctx, second))
	require.NoError(t, st.Enqueue(ctx, second.Metadata.ID.String()))

	pending, err := st.NextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.Metadata.ID.String(), pending[0].DocumentID)
	require.NotNil(t, pending[0].Document)
	assert.Equal(t, "first", pending[0].Document.Metadata.Title)
}

func TestMarkUploadedAndFailed(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	doc := sampleDoc("flaky", time.Now().UTC())
	require.NoError(t, st.Save(ctx, doc))
	id := doc.Metadata.ID.String()
	require.NoError(t, st.Enqueue(ctx, id))

	require.NoError(t, st.MarkFailed(ctx, id, "connection reset"))
	require.NoError(t, st.MarkFailed(ctx, id, "timeout"))

	pending, err := st.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "timeout", pending[0].LastError)

	require.NoError(t, st.MarkUploaded(ctx, id))
	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The document itself is untouched by outbox bookkeeping.
	_, err = st.Get(ctx, id)
	assert.NoError(t, err)
}

func TestOpenOnDiskAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "buildlog.db")

	st, err := store.Open(ctx, path, testLogger())
	require.NoError(t, err)
	doc := sampleDoc("persistent", time.Now().UTC())
	require.NoError(t, st.Save(ctx, doc))
	require.NoError(t, st.Close())

	st, err = store.Open(ctx, path, testLogger())
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	got, err := st.Get(ctx, doc.Metadata.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "persistent", got.Metadata.Title)
}

// Get runs stored bytes through model.DecodeDocument, so a converted
// legacy document reads back in canonical form.
func TestGetConvertsLegacyDocuments(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	legacy := []byte(`{
		"version": "1.0.0",
		"title": "Old replay",
		"entries": [{"kind": "prompt", "timestamp": 0, "content": "hi there"}]
	}`)
	converted, err := model.DecodeDocument(legacy)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, converted))

	got, err := st.Get(ctx, converted.Metadata.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.SchemaVersion, got.Version)
	assert.Equal(t, "Old replay", got.Metadata.Title)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, model.StepPrompt, got.Steps[0].Type)
}
