package sqlstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"stagekit/content"
	core "stagekit/data/db"
	basicdb "stagekit/data/db/basic"
	"stagekit/store"
)

// 测试辅助：创建内存数据库并初始化表
func setupTestDB(t *testing.T) core.IDatabase {
	db, err := basicdb.New(core.DBConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupStore(t *testing.T, opts ...Option) *Store {
	s := New(setupTestDB(t), opts...)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestStore_EntityLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := store.WithActor(context.Background(), 7)

	ref, err := s.UpsertEntity(ctx, content.Ref("post", -1), content.Fields{
		content.FieldTitle:   "Hello",
		content.FieldContent: "World",
		content.FieldStatus:  content.StatusPublish,
	})
	require.NoError(t, err)
	assert.Equal(t, "post", ref.Type)
	assert.Greater(t, ref.ID, int64(0))

	e, err := s.GetEntity(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Hello", e.Title)
	assert.Equal(t, content.StatusPublish, e.Status)
	assert.Equal(t, int64(7), e.ModifiedBy)
	first := e.Modified

	_, err = s.UpsertEntity(ctx, ref, content.Fields{content.FieldTitle: "Hi"})
	require.NoError(t, err)
	e, err = s.GetEntity(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Hi", e.Title)
	assert.Equal(t, "World", e.Content)
	assert.True(t, e.Modified.After(first))

	ok, err := s.TrashEntity(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	refs, err := s.ListByStatus(ctx, content.StatusTrash)
	require.NoError(t, err)
	assert.Equal(t, []content.EntityRef{ref}, refs)
}

func TestStore_GetEntityNotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.GetEntity(context.Background(), content.Ref("post", 99))
	assert.ErrorIs(t, err, store.ErrEntityNotFound)

	_, err = s.UpsertEntity(context.Background(), content.Ref("post", 99), content.Fields{})
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
}

func TestStore_ModifiedIsMonotonic(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := setupStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	ref, err := s.UpsertEntity(ctx, content.Ref("page", 0), content.Fields{content.FieldTitle: "a"})
	require.NoError(t, err)
	a, _ := s.GetEntity(ctx, ref)
	require.NoError(t, s.SetEntityStatus(ctx, ref, content.StatusPublish))
	b, _ := s.GetEntity(ctx, ref)
	assert.True(t, b.Modified.After(a.Modified))
}

func TestStore_Meta(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ref, err := s.UpsertEntity(ctx, content.Ref("post", 0), content.Fields{})
	require.NoError(t, err)

	require.NoError(t, s.AddMeta(ctx, ref, "color", "red"))
	require.NoError(t, s.AddMeta(ctx, ref, "color", "blue"))
	require.NoError(t, s.UpdateMeta(ctx, ref, "_thumbnail_id", 12))

	colors, err := s.GetMeta(ctx, ref, "color")
	require.NoError(t, err)
	assert.Equal(t, []any{"red", "blue"}, colors)

	thumb, err := s.GetMeta(ctx, ref, "_thumbnail_id")
	require.NoError(t, err)
	require.Len(t, thumb, 1)
	assert.True(t, content.ValuesEqual(int64(12), thumb[0]))

	require.NoError(t, s.DeleteMeta(ctx, ref, "color", "red"))
	all, err := s.GetAllMeta(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []any{"blue"}, all["color"])

	require.NoError(t, s.DeleteMeta(ctx, ref, "color", nil))
	colors, err = s.GetMeta(ctx, ref, "color")
	require.NoError(t, err)
	assert.Empty(t, colors)

	err = s.UpdateMeta(ctx, content.Ref("post", -3), "k", "v")
	assert.ErrorIs(t, err, store.ErrPlaceholderWrite)
}

func TestStore_ReplaceMetaIsAtomic(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ref, err := s.UpsertEntity(ctx, content.Ref("post", 0), content.Fields{})
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMeta(ctx, ref, "gallery", []any{"a", "b"}))

	// 第二个值无法编码，整个替换回滚
	err = s.ReplaceMeta(ctx, ref, "gallery", []any{"c", make(chan int)})
	require.Error(t, err)
	values, err := s.GetMeta(ctx, ref, "gallery")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, values)

	require.NoError(t, s.ReplaceMeta(ctx, ref, "gallery", nil))
	values, err = s.GetMeta(ctx, ref, "gallery")
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.ErrorIs(t, s.ReplaceMeta(ctx, content.Ref("post", -1), "gallery", []any{"x"}), store.ErrPlaceholderWrite)
}

func TestStore_Terms(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ref, err := s.UpsertEntity(ctx, content.Ref("post", 0), content.Fields{})
	require.NoError(t, err)

	news, err := s.InsertTerm(ctx, "category", "News", "news")
	require.NoError(t, err)
	tech, err := s.InsertTerm(ctx, "category", "Tech", "tech")
	require.NoError(t, err)

	_, err = s.InsertTerm(ctx, "category", "News again", "news")
	assert.Error(t, err)

	got, err := s.GetTermBySlug(ctx, "category", "tech")
	require.NoError(t, err)
	assert.Equal(t, tech, got.ID)

	_, err = s.SetTerms(ctx, ref, "category", []int64{tech, 999})
	assert.ErrorIs(t, err, store.ErrTermNotFound)

	ok, err := s.SetTerms(ctx, ref, "category", []int64{tech, news})
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.GetTerms(ctx, ref, "category", content.TermFieldsIDs)
	require.NoError(t, err)
	assert.Equal(t, []int64{tech, news}, ids.IDs)

	full, err := s.GetTerms(ctx, ref, "category", content.TermFieldsAllWithObjectID)
	require.NoError(t, err)
	require.Len(t, full.Terms, 2)
	require.NotNil(t, full.Terms[0].ObjectID)
	assert.Equal(t, ref.ID, *full.Terms[0].ObjectID)

	_, err = s.GetTerm(ctx, "post_tag", news)
	assert.ErrorIs(t, err, store.ErrTermNotFound)
}

func TestStore_EditLock(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := setupStore(t, WithClock(func() time.Time { return now }), WithLockTTL(time.Minute))
	ctx := context.Background()
	ref := content.Ref("post", 42)

	_, locked, err := s.GetEditLockHolder(ctx, ref)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, s.SetEditLock(ctx, ref, 3))
	require.NoError(t, s.SetEditLock(ctx, ref, 5))
	holder, locked, err := s.GetEditLockHolder(ctx, ref)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, int64(5), holder)

	now = now.Add(2 * time.Minute)
	_, locked, err = s.GetEditLockHolder(ctx, ref)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestStore_PostgresQueriesWithSQLMock(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(basicdb.Wrap(sqlDB, "postgres"), WithClock(func() time.Time { return now }))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT holder, locked_at_ns FROM edit_locks WHERE entity_id = $1 AND entity_type = $2")).
		WithArgs(int64(42), "post").
		WillReturnRows(sqlmock.NewRows([]string{"holder", "locked_at_ns"}).AddRow(int64(9), now.Add(-time.Minute).UnixNano()))

	holder, locked, err := s.GetEditLockHolder(context.Background(), content.Ref("post", 42))
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, int64(9), holder)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT type, id FROM entities WHERE status = $1 ORDER BY type, id")).
		WithArgs("customize-draft").
		WillReturnRows(sqlmock.NewRows([]string{"type", "id"}).AddRow("post", int64(3)).AddRow("page", int64(8)))

	refs, err := s.ListByStatus(context.Background(), content.StatusCustomizeDraft)
	require.NoError(t, err)
	assert.Equal(t, []content.EntityRef{content.Ref("post", 3), content.Ref("page", 8)}, refs)

	assert.NoError(t, mock.ExpectationsWereMet())
}
