package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mesh-intelligence/connector/pkg/entity"
	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/patch"
	"github.com/mesh-intelligence/connector/pkg/types"
)

type article struct {
	ID      string `db:"id,id,generated"`
	Version int64  `db:"version,version"`
	Title   string `db:"title,maxlen=200"`
	Content string
	Tags    []string
	Views   int
	Score   float64
	Created time.Time
	Author  *string
}

var articleDef = entity.Definition{
	Domain: "cms",
	Name:   "article",
	Indexes: []entity.Index{
		{Name: "search", Fields: []string{"title", "content"}, Kind: entity.Text},
		{Name: "by_title", Fields: []string{"title"}, Kind: entity.Unique},
	},
}

func newTestRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	r := entity.NewRegistry()
	require.NoError(t, entity.Register[article](r, articleDef))
	return r
}

func descriptor(t *testing.T) *entity.Descriptor {
	t.Helper()
	d, err := entity.DescriptorOf[article](newTestRegistry(t))
	require.NoError(t, err)
	return d
}

func TestFilter(t *testing.T) {
	d := descriptor(t)
	oid := primitive.NewObjectID()
	size := bson.D{{Key: "$size", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$tags", bson.A{}}}}}}

	tests := []struct {
		name string
		cond expr.Condition
		want bson.D
	}{
		{
			name: "nil matches everything",
			want: bson.D{},
		},
		{
			name: "and of comparisons",
			cond: expr.AllOf(expr.Field("title").Eq("a"), expr.Field("views").Gt(3)),
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "title", Value: bson.D{{Key: "$eq", Value: "a"}}}},
				bson.D{{Key: "views", Value: bson.D{{Key: "$gt", Value: int64(3)}}}},
			}}},
		},
		{
			name: "unknown fields are dropped",
			cond: expr.AnyOf(expr.Field("nope").Eq(1), expr.Field("title").Ne("b")),
			want: bson.D{{Key: "title", Value: bson.D{{Key: "$ne", Value: "b"}}}},
		},
		{
			name: "only unknown fields",
			cond: expr.AllOf(expr.Field("nope").Eq(1)),
			want: bson.D{},
		},
		{
			name: "id becomes an object id",
			cond: expr.Field("id").Eq(oid.Hex()),
			want: bson.D{{Key: "_id", Value: bson.D{{Key: "$eq", Value: oid}}}},
		},
		{
			name: "literal on the left is mirrored",
			cond: expr.Compare{Op: expr.Lt, Left: expr.Value(5), Right: expr.Field("views")},
			want: bson.D{{Key: "views", Value: bson.D{{Key: "$gt", Value: int64(5)}}}},
		},
		{
			name: "nil literal",
			cond: expr.AllOf(expr.Field("author").Eq(nil), expr.Field("title").Ne(nil)),
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "author", Value: nil}},
				bson.D{{Key: "title", Value: bson.D{{Key: "$ne", Value: nil}}}},
			}}},
		},
		{
			name: "regex",
			cond: expr.Field("title").Matches("^go"),
			want: bson.D{{Key: "title", Value: bson.D{{Key: "$regex", Value: primitive.Regex{Pattern: "^go"}}}}},
		},
		{
			name: "membership",
			cond: expr.Field("views").NotIn([]int{1, 2}),
			want: bson.D{{Key: "views", Value: bson.D{{Key: "$nin", Value: bson.A{int64(1), int64(2)}}}}},
		},
		{
			name: "empty membership",
			cond: expr.Field("title").In([]string{}),
			want: bson.D{{Key: "title", Value: bson.D{{Key: "$in", Value: bson.A{}}}}},
		},
		{
			name: "field against field",
			cond: expr.Compare{Op: expr.Gt, Left: expr.Field("views"), Right: expr.Field("score")},
			want: bson.D{{Key: "$expr", Value: bson.D{{Key: "$gt", Value: bson.A{"$views", "$score"}}}}},
		},
		{
			name: "collection size",
			cond: expr.Field("tags").Size().Gte(2),
			want: bson.D{{Key: "$expr", Value: bson.D{{Key: "$gte", Value: bson.A{size, int64(2)}}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filter(d, tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterErrors(t *testing.T) {
	d := descriptor(t)

	tests := []struct {
		name string
		cond expr.Condition
		want error
	}{
		{"two literals", expr.Compare{Op: expr.Eq, Left: expr.Value(1), Right: expr.Value(1)}, types.ErrUnsupportedExpression},
		{"regex on a number", expr.Field("views").Matches("1"), types.ErrUnsupportedExpression},
		{"membership without a list", expr.Field("views").In(3), types.ErrUnsupportedExpression},
		{"size of a scalar", expr.Field("title").Size().Eq(1), types.ErrUnsupportedExpression},
		{"membership on a size", expr.Compare{Op: expr.In, Left: expr.Field("tags").Size(), Right: expr.Value([]int{1})}, types.ErrUnsupportedExpression},
		{"ordering against nil", expr.Field("author").Lt(nil), types.ErrUnsupportedExpression},
		{"malformed id", expr.Field("id").Eq("not-an-object-id"), types.ErrInvalidID},
		{"wrong literal type", expr.Field("views").Eq("many"), types.ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := filter(d, tt.cond)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSortDoc(t *testing.T) {
	d := descriptor(t)
	got, err := sortDoc(d, []types.Sort{types.Desc("views"), types.Asc("id")})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "views", Value: -1}, {Key: "_id", Value: 1}}, got)

	_, err = sortDoc(d, []types.Sort{types.Asc("nope")})
	assert.ErrorIs(t, err, types.ErrUnknownField)
}

func TestUpdate(t *testing.T) {
	d := descriptor(t)
	got, err := update(d, []patch.Patch{
		patch.Set{Field: "title", Value: "t"},
		patch.Increment{Field: "views", Delta: 2},
		patch.Increment{Field: "views", Delta: 3},
		patch.Append{Field: "tags", Value: "x"},
		patch.Append{Field: "tags", Value: "y"},
		patch.Set{Field: "title", Value: "u"},
		patch.Set{Field: "version", Value: 99},
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}, {Key: "views", Value: int64(5)}}},
		{Key: "$set", Value: bson.D{{Key: "title", Value: "u"}}},
		{Key: "$push", Value: bson.D{{Key: "tags", Value: bson.D{{Key: "$each", Value: bson.A{"x", "y"}}}}}},
	}, got)

	got, err = update(d, []patch.Patch{patch.Remove{Field: "tags", Value: "old"}})
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "$inc", Value: bson.D{{Key: "version", Value: int64(1)}}},
		{Key: "$pull", Value: bson.D{{Key: "tags", Value: bson.D{{Key: "$in", Value: bson.A{"old"}}}}}},
	}, got)
}

func TestUpdateErrors(t *testing.T) {
	d := descriptor(t)

	tests := []struct {
		name    string
		patches []patch.Patch
	}{
		{"append and remove on one field", []patch.Patch{
			patch.Append{Field: "tags", Value: "a"},
			patch.Remove{Field: "tags", Value: "b"},
		}},
		{"set and increment on one field", []patch.Patch{
			patch.Set{Field: "views", Value: 1},
			patch.Increment{Field: "views", Delta: 1},
		}},
		{"increment on a string", []patch.Patch{patch.Increment{Field: "title", Delta: 1}}},
		{"id", []patch.Patch{patch.Set{Field: "id", Value: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := update(d, tt.patches)
			assert.ErrorIs(t, err, types.ErrUnsupportedPatch)
		})
	}
}

func TestRecord(t *testing.T) {
	d := descriptor(t)
	oid := primitive.NewObjectID()
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	rec, err := record(d, bson.M{
		"_id":     oid,
		"version": int64(3),
		"title":   "hello",
		"tags":    primitive.A{"a", "b"},
		"views":   int32(4),
		"created": primitive.NewDateTimeFromTime(created),
		"_score":  1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), rec["id"])
	assert.Equal(t, int64(3), rec["version"])
	assert.Equal(t, []string{"a", "b"}, rec["tags"])
	assert.Equal(t, 4, rec["views"])
	assert.True(t, created.Equal(rec["created"].(time.Time)))
	assert.NotContains(t, rec, "_score")
}

func TestTextSearchOnSkippedIndex(t *testing.T) {
	type page struct {
		ID      string `db:"id,id,generated"`
		Title   string
		Summary string
		Body    string
	}
	r := entity.NewRegistry()
	require.NoError(t, entity.Register[page](r, entity.Definition{
		Domain: "cms",
		Name:   "page",
		Indexes: []entity.Index{
			{Name: "headline", Fields: []string{"title", "summary"}, Kind: entity.Text},
			{Name: "fulltext", Fields: []string{"body"}, Kind: entity.Text},
		},
	}))
	d, err := entity.DescriptorOf[page](r)
	require.NoError(t, err)

	kept, ok := textIndex(d)
	require.True(t, ok)
	assert.Equal(t, "headline", kept.Name)

	skipped, ok := d.Index("fulltext")
	require.True(t, ok)
	b := &Backend{}
	_, _, err = b.RunTextSearch(context.Background(), d, "cms_page", skipped, "quick fox", nil)
	assert.ErrorIs(t, err, types.ErrUnknownIndex)
}
