//go:build integration
// +build integration

package datasource_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegraph/tidegraph/internal/datasource"
	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/log"
	"github.com/tidegraph/tidegraph/internal/testutil"
)

func seedKB(t *testing.T, db knowledge.Querier) *knowledge.KnowledgeBase {
	t.Helper()
	store := knowledge.NewStore(db, log.NewNop())
	kb, err := store.CreateKnowledgeBase(context.Background(), knowledge.CreateKnowledgeBaseParams{
		Name: "oceanography",
	})
	require.NoError(t, err)
	return kb
}

func TestDataSourceLifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	kb := seedKB(t, db.Pool)
	store := datasource.NewStore(db.Pool, log.NewNop())
	ctx := context.Background()

	created, err := store.Create(ctx, datasource.CreateParams{
		KBID:   kb.ID,
		Name:   "  product docs  ",
		Kind:   datasource.KindWebSinglePage,
		Config: []byte(`{"url": "https://example.com/docs"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "product docs", created.Name, "name is trimmed")
	assert.Equal(t, datasource.KindWebSinglePage, created.Kind)
	assert.Nil(t, created.DeletedAt)

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	cfg, err := datasource.ParsePageConfig(got.Config)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/docs", cfg.URL)

	list, err := store.List(ctx, kb.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	require.NoError(t, store.SoftDelete(ctx, created.ID))

	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, datasource.ErrDataSourceNotFound)

	list, err = store.List(ctx, kb.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = store.SoftDelete(ctx, created.ID)
	assert.ErrorIs(t, err, datasource.ErrDataSourceNotFound)
}

func TestCreateDataSourceValidation(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	kb := seedKB(t, db.Pool)
	store := datasource.NewStore(db.Pool, log.NewNop())
	ctx := context.Background()

	_, err := store.Create(ctx, datasource.CreateParams{
		KBID:   kb.ID,
		Name:   "   ",
		Kind:   datasource.KindFile,
		Config: []byte(`{"upload_id": 1}`),
	})
	require.Error(t, err)

	_, err = store.Create(ctx, datasource.CreateParams{
		KBID:   kb.ID,
		Name:   "bad config",
		Kind:   datasource.KindFile,
		Config: []byte(`{"upload_id": 0}`),
	})
	assert.ErrorIs(t, err, datasource.ErrInvalidConfig)

	_, err = store.Create(ctx, datasource.CreateParams{
		KBID:   kb.ID + 1000,
		Name:   "orphan",
		Kind:   datasource.KindWebSinglePage,
		Config: []byte(`{"url": "https://example.com"}`),
	})
	assert.ErrorIs(t, err, knowledge.ErrKnowledgeBaseNotFound)
}

func TestUploadsRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	uploads, err := datasource.NewUploads(db.Pool, t.TempDir(), 0, log.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	up, err := uploads.Save(ctx, "notes.txt", "text/plain; charset=utf-8", strings.NewReader("alpha"))
	require.NoError(t, err)
	assert.Positive(t, up.ID)
	assert.Equal(t, int64(5), up.Size)
	assert.Equal(t, "text/plain", up.MimeType, "mime parameters are stripped")
	assert.True(t, strings.HasSuffix(up.Path, ".txt"), "path %q carries the extension", up.Path)

	got, err := uploads.Get(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, up.Path, got.Path)

	f, err := uploads.Open(got)
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "alpha", string(content))

	// Identical content saved under another name shares the blob.
	again, err := uploads.Save(ctx, "copy.txt", "text/plain", strings.NewReader("alpha"))
	require.NoError(t, err)
	assert.NotEqual(t, up.ID, again.ID)
	assert.Equal(t, up.Path, again.Path)
}

func TestUploadsGetMissing(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	uploads, err := datasource.NewUploads(db.Pool, t.TempDir(), 0, log.NewNop())
	require.NoError(t, err)

	_, err = uploads.Get(context.Background(), 999999)
	assert.ErrorIs(t, err, datasource.ErrUploadNotFound)
}
