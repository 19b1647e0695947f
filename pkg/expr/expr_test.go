package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilders(t *testing.T) {
	c := Field("i").Eq(Field("values").Size())
	assert.Equal(t, Compare{Op: Eq, Left: FieldRef{Name: "i"}, Right: CollectionSize{Of: FieldRef{Name: "values"}}}, c)

	c = Field("title").Matches("^qu")
	assert.Equal(t, Literal{Value: "^qu"}, c.Right)
	assert.Equal(t, RegexMatch, c.Op)

	c = Field("values").Size().Gte(2)
	assert.Equal(t, CollectionSize{Of: FieldRef{Name: "values"}}, c.Left)
	assert.Equal(t, Literal{Value: 2}, c.Right)

	and := AllOf(Field("a").Eq(1), AnyOf(Field("b").In([]int{1, 2}), Field("c").NotIn([]string{})))
	assert.Len(t, and.Conditions, 2)
	assert.Equal(t, `and(a eq 1, or(b in []int{1, 2}, c nin []string{}))`, and.String())
}

func TestOpMirror(t *testing.T) {
	tests := []struct {
		op   Op
		want Op
	}{
		{Lt, Gt},
		{Lte, Gte},
		{Gt, Lt},
		{Gte, Lte},
		{Eq, Eq},
		{Ne, Ne},
		{RegexMatch, RegexMatch},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Mirror())
			assert.Equal(t, tt.op, tt.op.Mirror().Mirror())
		})
	}
	assert.True(t, Lt.Directional())
	assert.False(t, In.Directional())
	assert.Equal(t, "op(42)", Op(42).String())
}

func TestSearchFieldValue(t *testing.T) {
	tests := []struct {
		name   string
		cond   Condition
		want   any
		wantOK bool
	}{
		{"eq", Field("tenant").Eq("acme"), "acme", true},
		{"literal on left", Compare{Op: Eq, Left: Value("acme"), Right: Field("tenant")}, "acme", true},
		{"single element in", Field("tenant").In([]string{"acme"}), "acme", true},
		{"multi element in", Field("tenant").In([]string{"acme", "globex"}), nil, false},
		{"other field", Field("name").Eq("acme"), nil, false},
		{"ne does not pin", Field("tenant").Ne("acme"), nil, false},
		{"inside and", AllOf(Field("x").Gt(1), Field("tenant").Eq("acme")), "acme", true},
		{"or agreeing", AnyOf(
			AllOf(Field("tenant").Eq("acme"), Field("x").Eq(1)),
			AllOf(Field("tenant").Eq("acme"), Field("x").Eq(2)),
		), "acme", true},
		{"or disagreeing", AnyOf(Field("tenant").Eq("acme"), Field("tenant").Eq("globex")), nil, false},
		{"or partial", AnyOf(Field("tenant").Eq("acme"), Field("x").Eq(2)), nil, false},
		{"empty and", AllOf(), nil, false},
		{"nil", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SearchFieldValue("tenant", tt.cond)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
