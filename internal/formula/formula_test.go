package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]any) Lookup {
	return func(id string) (any, bool) {
		value, ok := values[id]
		return value, ok
	}
}

func TestEval(t *testing.T) {
	values := map[string]any{
		"m":     15.0,
		"n":     3.0,
		"name":  "East",
		"empty": nil,
		"start": "2024-01-01",
		"end":   "2024-03-15",
	}
	cases := []struct {
		expr string
		want any
	}{
		{"{{m}} * 100", 1500.0},
		{"{{ m }} / {{n}}", 5.0},
		{"1 + 2 * 3", 7.0},
		{"(1 + 2) * 3", 9.0},
		{"-{{m}} + 1", -14.0},
		{"10 % 4", 2.0},
		{"{{m}} > {{n}} && {{n}} >= 3", true},
		{"!({{m}} == 15)", false},
		{"{{empty}} * 2", nil},
		{"{{name}} + '-' + {{n}}", "East-3"},
		{"len({{name}})", 4.0},
		{"isEmpty({{empty}})", true},
		{"isEmpty(\"x\")", false},
		{"number(\"12.5\") + 1", 13.5},
		{"text({{m}})", "15"},
		{"dateDiff({{start}}, {{end}}, \"days\")", 74.0},
		{"dateDiff({{start}}, {{end}}, \"months\")", 2.0},
		{"if({{m}} > 10, \"big\", \"small\")", "big"},
		{"round(2 / 3, 2)", 0.67},
		{"abs(-4)", 4.0},
		{"min({{m}}, {{n}}, {{empty}})", 3.0},
		{"max({{m}}, {{n}})", 15.0},
		{"coalesce({{empty}}, '', {{name}})", "East"},
		{"null", nil},
		{"1e3 + .5", 1000.5},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			program, err := Compile(tc.expr)
			require.NoError(t, err)
			got, err := program.Eval(lookupFrom(values))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"{{m} * 2",
		"{{}}",
		"1 +",
		"(1 + 2",
		"os.Exit(1)",
		"unknownFn(1)",
		"round()",
		"'open",
		"1 ; 2",
	} {
		_, err := Compile(expr)
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrCompile), expr)
	}
}

func TestEvalErrors(t *testing.T) {
	values := map[string]any{"m": 1.0, "zero": 0.0, "word": "abc"}
	for _, expr := range []string{
		"{{m}} / {{zero}}",
		"{{m}} % 0",
		"{{word}} * 2",
		"{{missing}} + 1",
		"dateDiff('2024-01-01', '2024-02-01', 'fortnights')",
	} {
		program, err := Compile(expr)
		require.NoError(t, err, expr)
		_, err = program.Eval(lookupFrom(values))
		require.Error(t, err, expr)
		assert.True(t, errors.Is(err, ErrEvaluate), expr)
	}
}

func TestReferences(t *testing.T) {
	program, err := Compile("{{a}} + {{b}} * {{a}}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, program.References())
}
