package entity

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/connector/pkg/expr"
	"github.com/mesh-intelligence/connector/pkg/types"
)

type audit struct {
	Created time.Time
}

type article struct {
	ID      string `db:"id,id,generated"`
	Version int64  `db:"version,version"`
	Tenant  string `db:"tenant,tenant"`
	Title   string `db:"title,maxlen=200"`
	Content string
	Tags    []string
	Rating  *float64
	Attrs   map[string]string
	audit
	secret string
	Skip   string `db:"-"`
}

var articleDef = Definition{
	Domain:         "cms",
	Name:           "article",
	TenantStrategy: SeparatedTenant,
	Indexes: []Index{
		{Name: "search", Fields: []string{"title", "content"}, Kind: Text},
		{Fields: []string{"tenant", "title"}, Kind: Unique},
		{Fields: []string{"tenant"}},
	},
}

func newArticleRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *Descriptor) {
	t.Helper()
	r := NewRegistry(opts...)
	require.NoError(t, Register[article](r, articleDef))
	d, err := DescriptorOf[article](r)
	require.NoError(t, err)
	return r, d
}

func TestDescribe(t *testing.T) {
	_, d := newArticleRegistry(t)

	assert.Equal(t, "cms_article", d.StorageName)
	assert.Equal(t, SeparatedTenant, d.TenantStrategy)

	var names []string
	for _, p := range d.Properties {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"id", "version", "tenant", "title", "content", "tags", "rating", "attrs", "created"}, names)

	require.NotNil(t, d.ID)
	assert.True(t, d.ID.Generated)
	assert.Equal(t, "version", d.Version.Name)
	assert.Equal(t, "tenant", d.Tenant.Name)
	assert.True(t, d.Tenant.Ignored())

	title, ok := d.Lookup("title")
	require.True(t, ok)
	assert.Equal(t, 200, title.MaxLength)

	rating, _ := d.Lookup("rating")
	assert.True(t, rating.Type.Optional)
	assert.Equal(t, KindFloat, rating.Type.Kind)

	tags, _ := d.Lookup("tags")
	assert.Equal(t, KindCollection, tags.Type.Kind)
	assert.Equal(t, KindString, tags.Type.Elem.Kind)

	created, _ := d.Lookup("created")
	assert.Equal(t, KindTime, created.Type.Kind)

	_, ok = d.Lookup("tenant")
	assert.False(t, ok, "tenant is ignored under SeparatedTenant")
	_, ok = d.Property("tenant")
	assert.True(t, ok)
	_, ok = d.Lookup("skip")
	assert.False(t, ok)
	assert.Len(t, d.Stored(), 8)
}

func TestDescribeIndexes(t *testing.T) {
	_, d := newArticleRegistry(t)

	assert.Equal(t, []Index{
		{Name: "search", Fields: []string{"title", "content"}, Kind: Text},
		{Name: "search__simple", Fields: []string{"title", "content"}, Kind: Simple},
		{Name: "title", Fields: []string{"title"}, Kind: Unique},
	}, d.Indexes, "tenant fields are dropped and emptied indexes skipped")

	idx, err := d.TextIndex("")
	require.NoError(t, err)
	assert.Equal(t, "search", idx.Name)

	_, err = d.TextIndex("search__simple")
	assert.ErrorIs(t, err, types.ErrUnknownIndex)
	_, err = d.TextIndex("nope")
	assert.ErrorIs(t, err, types.ErrUnknownIndex)
}

func TestDescribeMemoized(t *testing.T) {
	r, d := newArticleRegistry(t)
	again, err := r.Describe(reflect.TypeOf(&article{}))
	require.NoError(t, err)
	assert.Same(t, d, again)
}

func TestDescribeUnknownEntity(t *testing.T) {
	r := NewRegistry()
	_, err := DescriptorOf[article](r)
	assert.ErrorIs(t, err, types.ErrUnknownEntity)
}

func TestRegisterErrors(t *testing.T) {
	type twoIDs struct {
		A string `db:"a,id"`
		B string `db:"b,id"`
	}
	type badVersion struct {
		V string `db:"v,version"`
	}
	type badGenerated struct {
		ID int64 `db:"id,id,generated"`
	}
	type badTag struct {
		X string `db:"x,indexed"`
	}
	type unsupported struct {
		C chan int
	}
	type plain struct {
		Name string
	}

	tests := []struct {
		name string
		reg  func(r *Registry) error
	}{
		{"two ids", func(r *Registry) error { return Register[twoIDs](r, Definition{Domain: "d"}) }},
		{"string version", func(r *Registry) error { return Register[badVersion](r, Definition{Domain: "d"}) }},
		{"generated integer id", func(r *Registry) error { return Register[badGenerated](r, Definition{Domain: "d"}) }},
		{"unknown tag option", func(r *Registry) error { return Register[badTag](r, Definition{Domain: "d"}) }},
		{"unsupported type", func(r *Registry) error { return Register[unsupported](r, Definition{Domain: "d"}) }},
		{"missing domain", func(r *Registry) error { return Register[plain](r, Definition{}) }},
		{"unknown index field", func(r *Registry) error {
			return Register[plain](r, Definition{Domain: "d", Indexes: []Index{{Fields: []string{"nope"}}}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := tt.reg(r)
			if err == nil {
				// Declarations are checked when first described.
				for rt := range r.entries {
					_, err = r.Describe(rt)
				}
			}
			assert.ErrorIs(t, err, types.ErrInvalidEntity)
		})
	}

	r := NewRegistry()
	require.NoError(t, Register[plain](r, Definition{Domain: "d"}))
	assert.ErrorIs(t, Register[plain](r, Definition{Domain: "d"}), types.ErrInvalidEntity)
}

func TestFromConfigStrategy(t *testing.T) {
	type item struct {
		ID     string `db:"id,id"`
		Tenant string `db:"tenant,tenant"`
	}
	type other struct {
		ID     string `db:"id,id"`
		Tenant string `db:"tenant,tenant"`
	}
	r := NewRegistry(WithTenantStrategies(map[string]TenantStrategy{"billing": SeparatedTenant}))
	require.NoError(t, Register[item](r, Definition{Domain: "billing", TenantStrategy: FromConfig}))
	require.NoError(t, Register[other](r, Definition{Domain: "sales", TenantStrategy: FromConfig}))

	d, err := DescriptorOf[item](r)
	require.NoError(t, err)
	assert.Equal(t, SeparatedTenant, d.TenantStrategy)

	d, err = DescriptorOf[other](r)
	require.NoError(t, err)
	assert.Equal(t, MultiTenant, d.TenantStrategy)
}

func TestParseTenantStrategy(t *testing.T) {
	s, err := ParseTenantStrategy("separated_tenant")
	require.NoError(t, err)
	assert.Equal(t, SeparatedTenant, s)
	s, err = ParseTenantStrategy(types.TenantStrategyMulti)
	require.NoError(t, err)
	assert.Equal(t, MultiTenant, s)
	_, err = ParseTenantStrategy("FROM_CONFIG")
	assert.ErrorIs(t, err, types.ErrTenantStrategy)
}

func TestStorageNames(t *testing.T) {
	_, d := newArticleRegistry(t)

	name, err := d.StorageNameForEntity(&article{Tenant: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "cms_article__acme", name)

	_, err = d.StorageNameForEntity(article{})
	assert.ErrorIs(t, err, types.ErrMissingTenant)

	name, err = d.StorageNameForCondition(expr.AllOf(expr.Field("title").Eq("x"), expr.Field("tenant").Eq("acme")))
	require.NoError(t, err)
	assert.Equal(t, "cms_article__acme", name)

	name, err = d.StorageNameForCondition(expr.Field("tenant").In([]string{"globex"}))
	require.NoError(t, err)
	assert.Equal(t, "cms_article__globex", name)

	_, err = d.StorageNameForCondition(expr.Field("title").Eq("x"))
	assert.ErrorIs(t, err, types.ErrMissingTenant)

	acme := "acme"
	assert.Equal(t, "cms_article__acme", d.StorageNameForTenant(&acme))
	assert.Equal(t, "cms_article", d.StorageNameForTenant(nil))
}

func TestStorageNamesOptionalAndMultiTenant(t *testing.T) {
	type optional struct {
		ID     string  `db:"id,id"`
		Tenant *string `db:"tenant,tenant"`
	}
	type shared struct {
		ID     string `db:"id,id"`
		Tenant string `db:"tenant,tenant"`
	}
	r := NewRegistry()
	require.NoError(t, Register[optional](r, Definition{Domain: "o", TenantStrategy: SeparatedTenant}))
	require.NoError(t, Register[shared](r, Definition{Domain: "s", Name: "x"}))

	d, err := DescriptorOf[optional](r)
	require.NoError(t, err)
	name, err := d.StorageNameForEntity(&optional{})
	require.NoError(t, err)
	assert.Equal(t, "o", name)

	d, err = DescriptorOf[shared](r)
	require.NoError(t, err)
	assert.False(t, d.Tenant.Ignored())
	name, err = d.StorageNameForEntity(&shared{Tenant: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "s_x", name)
	name, err = d.StorageNameForCondition(expr.Field("tenant").Eq("acme"))
	require.NoError(t, err)
	assert.Equal(t, "s_x", name)
}

func TestValuesAndDecode(t *testing.T) {
	_, d := newArticleRegistry(t)
	rating := 4.5
	created := time.UnixMilli(1_700_000_000_123).UTC()
	a := &article{
		ID:      "a1",
		Version: 3,
		Tenant:  "acme",
		Title:   "Hello",
		Content: "World",
		Rating:  &rating,
		audit:   audit{Created: created},
	}

	rec, err := d.Values(a)
	require.NoError(t, err)
	assert.NotContains(t, rec, "tenant")
	assert.Equal(t, "Hello", rec["title"])
	assert.Equal(t, 4.5, rec["rating"])
	assert.Equal(t, []string{}, rec["tags"], "nil collections read as empty")
	assert.Equal(t, map[string]string{}, rec["attrs"])
	assert.Equal(t, created, rec["created"])
	assert.Equal(t, "a1", rec.ID(d))

	// Decode from backend-shaped values.
	var got article
	err = d.Decode(Record{
		"id":      "a1",
		"version": int32(4),
		"title":   []byte("Hello"),
		"tags":    []any{"x", "y"},
		"rating":  nil,
		"attrs":   map[string]any{"k": "v"},
		"created": created.UnixMilli(),
		"extra":   "ignored",
	}, &got)
	require.NoError(t, err)
	assert.Equal(t, article{
		ID:      "a1",
		Version: 4,
		Title:   "Hello",
		Tags:    []string{"x", "y"},
		Attrs:   map[string]string{"k": "v"},
		audit:   audit{Created: created},
	}, got)

	err = d.Decode(Record{"rating": "5"}, &got)
	require.NoError(t, err)
	require.NotNil(t, got.Rating)
	assert.Equal(t, 5.0, *got.Rating)

	err = d.Decode(Record{"version": "x"}, &got)
	assert.ErrorIs(t, err, types.ErrTypeMismatch)
	assert.ErrorIs(t, d.Decode(Record{}, got), types.ErrTypeMismatch)
}

func TestSetAndZeroID(t *testing.T) {
	_, d := newArticleRegistry(t)
	a := &article{}
	zero, err := d.IsZeroID(a)
	require.NoError(t, err)
	assert.True(t, zero)

	require.NoError(t, d.Set(a, d.ID, "generated"))
	require.NoError(t, d.Set(a, d.Version, 1))
	assert.Equal(t, "generated", a.ID)
	assert.Equal(t, int64(1), a.Version)

	v, err := d.Get(a, d.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
