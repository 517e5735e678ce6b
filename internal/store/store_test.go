package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikimannia/refreshstats/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Driver: DriverDuckDB, Migrate: true})
	if err != nil {
		t.Fatalf("Open in-memory duckdb failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func descriptor(t *testing.T, m model.Metric) model.Descriptor {
	t.Helper()
	d, err := model.Lookup(model.Descriptors(nil), string(m))
	require.NoError(t, err)
	return d
}

func TestCountRows_GoodArticlesPredicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertPages(ctx, []Page{
		{Namespace: 0, Title: "Main_Page"},
		{Namespace: 0, Title: "Alpha"},
		{Namespace: 0, Title: "Old_Alpha", Redirect: true},
		{Namespace: 1, Title: "Talk:Alpha"},
		{Namespace: 2, Title: "User:Bob"},
	}))

	good, err := store.CountRows(ctx, descriptor(t, model.GoodArticles).Source)
	require.NoError(t, err)
	assert.Equal(t, int64(2), good)

	total, err := store.CountRows(ctx, descriptor(t, model.TotalPages).Source)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// Namespace 2 counted as content too.
	withUser, err := store.CountRows(ctx, model.Descriptors([]int64{0, 2})[0].Source)
	require.NoError(t, err)
	assert.Equal(t, int64(3), withUser)
}

func TestCountRows_ImagesAndUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertImages(ctx, "A.png", "B.jpg", "C.svg"))
	require.NoError(t, store.InsertUsers(ctx, "Alice", "Bob"))
	require.NoError(t, store.InsertUsers(ctx, "Carol"))

	images, err := store.CountRows(ctx, descriptor(t, model.Images).Source)
	require.NoError(t, err)
	assert.Equal(t, int64(3), images)

	users, err := store.CountRows(ctx, descriptor(t, model.Users).Source)
	require.NoError(t, err)
	assert.Equal(t, int64(3), users)
}

func TestSummaryValue_DefaultsAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v, err := store.SummaryValue(ctx, model.FieldImages)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, store.SetSummary(ctx, model.FieldImages, 17))
	v, err = store.SummaryValue(ctx, model.FieldImages)
	require.NoError(t, err)
	assert.Equal(t, int64(17), v)
}

func TestSummaryValue_RejectsUnknownField(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SummaryValue(context.Background(), "ss_total_edits; DROP TABLE page")
	assert.True(t, errors.Is(err, ErrUnknownField), "got %v", err)

	_, err = store.CompareAndSetSummary(context.Background(), "page_id", 0, 1)
	assert.True(t, errors.Is(err, ErrUnknownField), "got %v", err)
}

func TestSummaryValue_MissingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.DB().Exec(`DELETE FROM site_stats`)
	require.NoError(t, err)

	_, err = store.SummaryValue(ctx, model.FieldUsers)
	assert.ErrorIs(t, err, ErrNoSummaryRow)
	assert.ErrorIs(t, store.SetSummary(ctx, model.FieldUsers, 1), ErrNoSummaryRow)
}

func TestCompareAndSetSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetSummary(ctx, model.FieldGood, 7))

	// Expected value matches: the write lands.
	n, err := store.CompareAndSetSummary(ctx, model.FieldGood, 7, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	v, err := store.SummaryValue(ctx, model.FieldGood)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)

	// Someone else moved it: the stale write is a no-op.
	n, err = store.CompareAndSetSummary(ctx, model.FieldGood, 7, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	v, err = store.SummaryValue(ctx, model.FieldGood)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)
}

func TestCompareAndSetSummary_NullField(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.DB().Exec(`UPDATE site_stats SET ss_users = NULL WHERE ss_row_id = 1`)
	require.NoError(t, err)

	v, err := store.SummaryValue(ctx, model.FieldUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	n, err := store.CompareAndSetSummary(ctx, model.FieldUsers, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTablePrefix(t *testing.T) {
	store, err := Open(Config{Driver: DriverDuckDB, TablePrefix: "mw_", Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.InsertUsers(ctx, "Alice"))
	n, err := store.CountRows(ctx, descriptor(t, model.Users).Source)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var direct int64
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM mw_user`).Scan(&direct))
	assert.Equal(t, int64(1), direct)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = Open(Config{Driver: DriverMySQL, DSN: "u:p@tcp(localhost:3306)/wiki", Migrate: true})
	assert.Error(t, err)

	_, err = Open(Config{Driver: DriverDuckDB, TablePrefix: "mw-"})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestMigrationStatus(t *testing.T) {
	store := newTestStore(t)

	cur, pending, err := store.MigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, cur)
	assert.Equal(t, 0, pending)
	assert.NoError(t, store.Migrate())
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, DriverDuckDB, store.Driver())
}
