package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_SimpleSelect(t *testing.T) {
	sel := NewSelect("")
	sel.AddTable(&Table{Name: "Customers", As: "c"})
	sel.AddToProjection(col("c", "Id"))
	sel.SetPredicate(Equal(col("c", "Id"), &Parameter{Name: "id", T: intType}))

	result := Validate(sel)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Problems)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name  string
		build func() *SelectExpression
		want  string
	}{
		{
			name: "empty projection",
			build: func() *SelectExpression {
				sel := NewSelect("")
				sel.AddTable(&Table{Name: "Customers", As: "c"})
				return sel
			},
			want: `select "" has an empty projection`,
		},
		{
			name: "join first",
			build: func() *SelectExpression {
				sel := NewSelect("")
				sel.AddTable(&Join{Kind: JoinInner, Table: &Table{Name: "Orders", As: "o"}, On: Equal(col("o", "Id"), col("o", "Id"))})
				sel.AddToProjection(col("o", "Id"))
				return sel
			},
			want: `join "o" is the first table`,
		},
		{
			name: "inner join without ON",
			build: func() *SelectExpression {
				sel := NewSelect("")
				sel.AddTable(&Table{Name: "Customers", As: "c"})
				sel.AddTable(&Join{Kind: JoinInner, Table: &Table{Name: "Orders", As: "o"}})
				sel.AddToProjection(col("o", "Id"))
				return sel
			},
			want: `join "o" has no ON condition`,
		},
		{
			name: "unknown alias",
			build: func() *SelectExpression {
				sel := NewSelect("")
				sel.AddTable(&Table{Name: "Customers", As: "c"})
				sel.AddToProjection(col("x", "Id"))
				return sel
			},
			want: `column Id references unknown table "x"`,
		},
		{
			name: "composed non-composable SQL",
			build: func() *SelectExpression {
				sel := NewSelect("")
				sel.AddTable(&FromSQL{SQL: "PRAGMA table_info(x)", As: "c"})
				sel.SetProjectStar(true)
				sel.SetPredicate(Equal(col("c", "Id"), col("c", "Id")))
				return sel
			},
			want: "non-composable SQL cannot be composed with further operators",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.build())
			assert.False(t, result.IsValid)
			require.NotEmpty(t, result.Problems)
			assert.Contains(t, result.Problems, tt.want)
		})
	}
}

func TestValidate_CorrelatedSubquery(t *testing.T) {
	sub := NewSelect("")
	sub.AddTable(&Table{Name: "Orders", As: "o"})
	sub.AddToProjection(&Constant{Value: 1, T: intType})
	sub.SetPredicate(Equal(col("o", "CustomerId"), col("c", "Id")))

	sel := NewSelect("")
	sel.AddTable(&Table{Name: "Customers", As: "c"})
	sel.AddToProjection(col("c", "Id"))
	sel.SetPredicate(&Exists{Subquery: sub})

	assert.True(t, Validate(sel).IsValid, "inner select may reference outer aliases")
	assert.False(t, Validate(sub).IsValid, "standalone it may not")
}
