package sqldb

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/connector/pkg/connector"
	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

type sized struct {
	ID     string `db:"id,id,generated"`
	Label  string
	I      int
	Values []string
}

var sizedDef = entity.Definition{Domain: "test", Name: "sized"}

func openSQLite(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	b, err := Open(context.Background(), SQLite(), filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newSQLiteConnector(t *testing.T, opts ...Option) (*connector.Connector, *Backend) {
	t.Helper()
	b := openSQLite(t, opts...)
	return connector.New(b, newTestRegistry(t)), b
}

func strPtr(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	a := &article{
		Title:   "Hello",
		Content: "World",
		Tags:    []string{"go", "db"},
		Views:   7,
		Score:   0.5,
		Draft:   true,
		Created: time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		Author:  strPtr("ann"),
	}
	require.NoError(t, connector.Create(ctx, c, a))
	require.NotEmpty(t, a.ID)
	assert.Equal(t, int64(1), a.Version)

	res, err := connector.Find[article](ctx, c, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, *a, res.Data[0])

	got, err := connector.FindByID[article](ctx, c, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, *a, *got)

	missing, err := connector.FindByID[article](ctx, c, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	a := &article{Title: "v1", Tags: []string{}}
	require.NoError(t, connector.Create(ctx, c, a))
	stale := *a

	a.Title = "v2"
	require.NoError(t, connector.Update(ctx, c, a))
	assert.Equal(t, int64(2), a.Version)

	stale.Title = "v2 from a stale copy"
	err := connector.Update(ctx, c, &stale)
	assert.ErrorIs(t, err, types.ErrVersionConflict)
	assert.True(t, connector.IsConflict(err))

	ghost := &article{ID: "missing", Version: 1, Title: "ghost"}
	assert.ErrorIs(t, connector.Update(ctx, c, ghost), types.ErrEntityNotFound)

	got, err := connector.FindByID[article](ctx, c, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
}

func TestConcurrentPatchOne(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	a := &article{Title: "counter"}
	require.NoError(t, connector.Create(ctx, c, a))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := connector.PatchOneByID[article](ctx, c, a.ID, []patch.Patch{patch.Increment{Field: "views", Delta: 1}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := connector.FindByID[article](ctx, c, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version+2, got.Version)
	assert.Equal(t, 2, got.Views)
}

func TestConcurrentPatchManyAtomic(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	items := []*article{{Title: "a", Tags: []string{}}, {Title: "b", Tags: []string{}}}
	require.NoError(t, connector.CreateMany(ctx, c, items))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := connector.PatchManyAtomic[article](ctx, c, expr.Field("views").Gte(0),
				types.Page(0, 10, types.Asc("title")), []patch.Patch{patch.Increment{Field: "views", Delta: 1}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	res, err := connector.Find[article](ctx, c, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	for _, a := range res.Data {
		assert.Equal(t, 4, a.Views, a.Title)
		assert.Equal(t, int64(5), a.Version, a.Title)
	}
}

func TestPatchEntity(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	a := &article{Title: "draft", Tags: []string{}}
	require.NoError(t, connector.Create(ctx, c, a))
	stale := *a

	require.NoError(t, connector.PatchEntity(ctx, c, a, []patch.Patch{patch.Increment{Field: "views", Delta: 3}}))
	assert.Equal(t, 3, a.Views)
	assert.Equal(t, int64(2), a.Version)

	err := connector.PatchEntity(ctx, c, &stale, []patch.Patch{patch.Set{Field: "title", Value: "lost"}})
	assert.ErrorIs(t, err, types.ErrVersionConflict)

	got, err := connector.FindByID[article](ctx, c, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Title)
	assert.Equal(t, 3, got.Views)
}

func createSized(t *testing.T, c *connector.Connector) {
	t.Helper()
	fixtures := []*sized{
		{Label: "e1", I: 0, Values: []string{}},
		{Label: "e2", I: 0, Values: []string{"one"}},
		{Label: "e3", I: 1, Values: []string{"one"}},
		{Label: "e4", I: 1, Values: []string{"one", "two"}},
		{Label: "e5", I: 2, Values: []string{"one", "two"}},
	}
	require.NoError(t, connector.CreateMany(context.Background(), c, fixtures))
}

func labels(items []sized) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.Label
	}
	sort.Strings(out)
	return out
}

func TestCollectionSizeComparisons(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)
	createSized(t, c)

	tests := []struct {
		name string
		cond expr.Condition
		want []string
	}{
		{"i equals size", expr.Field("i").Eq(expr.Field("values").Size()), []string{"e1", "e3", "e5"}},
		{"i below size", expr.Field("i").Lt(expr.Field("values").Size()), []string{"e2", "e4"}},
		{"size against a literal", expr.Field("values").Size().Eq(0), []string{"e1"}},
		{"literal against size", expr.Compare{Op: expr.Lt, Left: expr.Value(1), Right: expr.Field("values").Size()}, []string{"e4", "e5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := connector.Find[sized](ctx, c, tt.cond, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, labels(res.Data))
		})
	}
}

func TestSeparatedTenantStorage(t *testing.T) {
	ctx := context.Background()
	c, b := newSQLiteConnector(t)

	tk := &ticket{Tenant: "acme", Subject: "printer"}
	require.NoError(t, connector.Create(ctx, c, tk))

	var name string
	err := b.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, "support_ticket__acme").Scan(&name)
	require.NoError(t, err)

	rows, err := b.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('support_ticket__acme')`)
	require.NoError(t, err)
	var cols []string
	for rows.Next() {
		var col string
		require.NoError(t, rows.Scan(&col))
		cols = append(cols, col)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"id", "version", "subject"}, cols)

	got, err := connector.FindOne[ticket](ctx, c, expr.AllOf(expr.Field("tenant").Eq("acme"), expr.Field("subject").Eq("printer")))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tk.ID, got.ID)

	_, err = connector.Find[ticket](ctx, c, expr.Field("subject").Eq("printer"), nil)
	assert.ErrorIs(t, err, types.ErrMissingTenant)

	require.NoError(t, connector.DropTenantStorage[ticket](ctx, c, "acme"))
	var n int
	require.NoError(t, b.db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE name = 'support_ticket__acme'`).Scan(&n))
	assert.Zero(t, n)
}

func TestTextSearchFallback(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	fixtures := []*article{
		{Title: "The quick brown fox"},
		{Title: "quick", Content: "a fox in the den"},
		{Title: "fox", Content: "quick thinking"},
		{Title: "quickly done"},
		{Title: "foxes"},
		{Title: "only quick"},
		{Title: "nothing here"},
		{Title: "slow dog", Content: "about a firefox"},
	}
	require.NoError(t, connector.CreateMany(ctx, c, fixtures))

	res, err := connector.TextSearch[article](ctx, c, connector.TextQuery{Text: "quick fox"}, types.Page(0, 10))
	require.NoError(t, err)
	require.Len(t, res.Data, 7)
	assert.Nil(t, res.Total)

	native := make([]string, 3)
	for i := range native {
		native[i] = res.Data[i].Title
	}
	assert.ElementsMatch(t, []string{"The quick brown fox", "quick", "fox"}, native)

	seen := map[string]bool{}
	var titles []string
	for _, a := range res.Data {
		assert.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
		titles = append(titles, a.Title)
	}
	assert.NotContains(t, titles, "nothing here")

	small, err := connector.TextSearch[article](ctx, c, connector.TextQuery{Text: "quick fox"}, types.Page(0, 2))
	require.NoError(t, err)
	assert.Len(t, small.Data, 2)

	counted, err := connector.TextSearch[article](ctx, c, connector.TextQuery{Text: "quick fox"}, &types.PageRequest{PageSize: 10, WithTotal: true})
	require.NoError(t, err)
	require.NotNil(t, counted.Total)
	assert.Equal(t, int64(3), *counted.Total)
	assert.Len(t, counted.Data, 3)
}

func TestTextIndexFollowsUpdates(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	a := &article{Title: "red panda"}
	require.NoError(t, connector.Create(ctx, c, a))
	a.Title = "giant otter"
	require.NoError(t, connector.Update(ctx, c, a))

	page := &types.PageRequest{PageSize: 10, WithTotal: true}
	res, err := connector.TextSearch[article](ctx, c, connector.TextQuery{Index: "search", Text: "otter"}, page)
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)

	res, err = connector.TextSearch[article](ctx, c, connector.TextQuery{Index: "search", Text: "panda"}, page)
	require.NoError(t, err)
	assert.Empty(t, res.Data)

	require.NoError(t, connector.DeleteEntity(ctx, c, a))
	res, err = connector.TextSearch[article](ctx, c, connector.TextQuery{Text: "otter"}, page)
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}

func TestDuplicateKey(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t, WithIDGenerator(func() string { return "fixed" }))

	require.NoError(t, connector.Create(ctx, c, &article{Title: "first"}))
	err := connector.Create(ctx, c, &article{Title: "second"})
	assert.ErrorIs(t, err, types.ErrDuplicatedKey)
}

func TestPatchOperations(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	items := []*article{
		{Title: "a", Views: 1, Draft: true, Tags: []string{"go", "db"}},
		{Title: "b", Views: 2, Draft: true},
		{Title: "c", Views: 3},
	}
	require.NoError(t, connector.CreateMany(ctx, c, items))

	t.Run("append and remove", func(t *testing.T) {
		got, err := connector.PatchOneByID[article](ctx, c, items[0].ID, []patch.Patch{
			patch.Append{Field: "tags", Value: "sql"},
			patch.Remove{Field: "tags", Value: "go"},
		})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"db", "sql"}, got.Tags)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("patch one follows sort order", func(t *testing.T) {
		got, err := connector.PatchOne[article](ctx, c, expr.Field("draft").Eq(true),
			[]patch.Patch{patch.Set{Field: "author", Value: "top"}}, types.Desc("views"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "b", got.Title)
		assert.Equal(t, "top", *got.Author)
	})

	t.Run("patch one without a match", func(t *testing.T) {
		got, err := connector.PatchOne[article](ctx, c, expr.Field("title").Eq("zzz"), []patch.Patch{patch.Set{Field: "views", Value: 9}})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("atomic many", func(t *testing.T) {
		got, err := connector.PatchManyAtomic[article](ctx, c, expr.Field("views").Gte(2),
			types.Page(0, 10, types.Asc("views")), []patch.Patch{patch.Increment{Field: "views", Delta: 10}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 12, got[0].Views)
		assert.Equal(t, 13, got[1].Views)
	})

	t.Run("non atomic many", func(t *testing.T) {
		n, err := connector.PatchManyNonAtomic[article](ctx, c, expr.Field("draft").Eq(true), nil,
			[]patch.Patch{patch.Set{Field: "draft", Value: false}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("non atomic paged", func(t *testing.T) {
		n, err := connector.PatchManyNonAtomic[article](ctx, c, nil, types.Page(0, 1, types.Asc("title")),
			[]patch.Patch{patch.Set{Field: "content", Value: "first"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		got, err := connector.FindOne[article](ctx, c, expr.Field("content").Eq("first"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "a", got.Title)
	})

	t.Run("delete", func(t *testing.T) {
		n, err := connector.Delete[article](ctx, c, expr.Field("title").In([]string{"a", "b"}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestFindQueries(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteConnector(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"alpha", "beta", "gamma", "delta"} {
		a := &article{Title: title, Views: i, Created: base.Add(time.Duration(i) * time.Hour)}
		if i%2 == 0 {
			a.Author = strPtr("ann")
		}
		require.NoError(t, connector.Create(ctx, c, a))
	}

	titles := func(res *types.PageResponse[article]) []string {
		out := make([]string, len(res.Data))
		for i, a := range res.Data {
			out[i] = a.Title
		}
		return out
	}

	tests := []struct {
		name string
		cond expr.Condition
		page *types.PageRequest
		want []string
	}{
		{"regex", expr.Field("title").Matches("^.e"), types.Page(0, 10, types.Asc("title")), []string{"beta", "delta"}},
		{"membership", expr.Field("views").In([]int{0, 3}), types.Page(0, 10, types.Asc("views")), []string{"alpha", "delta"}},
		{"negated membership", expr.Field("views").NotIn([]int{0, 3}), types.Page(0, 10, types.Asc("views")), []string{"beta", "gamma"}},
		{"null", expr.Field("author").Eq(nil), types.Page(0, 10, types.Asc("title")), []string{"beta", "delta"}},
		{"time range", expr.Field("created").Gt(base.Add(90 * time.Minute)), types.Page(0, 10, types.Desc("created")), []string{"delta", "gamma"}},
		{"second page", nil, types.Page(1, 3, types.Asc("views")), []string{"delta"}},
		{"unknown field is ignored", expr.Field("nope").Eq(1), types.Page(0, 2, types.Asc("title")), []string{"alpha", "beta"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := connector.Find[article](ctx, c, tt.cond, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(res))
		})
	}

	res, err := connector.Query[article](c).Where(expr.Field("views").Lt(3)).
		Paging(&types.PageRequest{PageSize: 1, WithTotal: true}).Execute(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Total)
	assert.Equal(t, int64(3), *res.Total)
	assert.Len(t, res.Data, 1)
}

func TestDropStorage(t *testing.T) {
	ctx := context.Background()
	c, b := newSQLiteConnector(t)

	require.NoError(t, connector.Create(ctx, c, &article{Title: "gone"}))
	require.NoError(t, c.DropStorage(ctx, "cms_article"))

	var n int
	require.NoError(t, b.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE name LIKE 'cms_article%'`).Scan(&n))
	assert.Zero(t, n)

	res, err := connector.Find[article](ctx, c, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Data)
}
