package filter

import (
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtures() map[string]Node {
	return map[string]Node{
		"simple": Match{Value: "Indebtedness"},
		"any":    Any("Liens", "Negative Pledge"),
		"nested": Or{Nodes: []Node{
			Match{Value: "debt"},
			And{Nodes: []Node{Match{Value: "lien"}, Not{Node: Match{Value: "tax"}}}},
		}},
		"grouped": And{Nodes: []Node{
			Or{Nodes: []Node{Match{Value: "a"}, Match{Value: "b"}}},
			Not{Node: Or{Nodes: []Node{Match{Value: "c"}, Match{Value: "d"}}}},
		}},
		"escaped": Match{Value: `say "hi" \ now`},
	}
}

func TestRender_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for name, n := range fixtures() {
		t.Run(name, func(t *testing.T) {
			g.Assert(t, "render_"+name, []byte(Render(n)))
		})
	}
}

func TestEncode_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	data, err := Encode(fixtures()["nested"])
	require.NoError(t, err)
	g.Assert(t, "encode_nested", data)
}

func TestParse_RoundTrip(t *testing.T) {
	for name, n := range fixtures() {
		t.Run(name, func(t *testing.T) {
			parsed, err := Parse(Render(n))
			require.NoError(t, err)
			assert.Equal(t, Render(n), Render(parsed))
			assert.Equal(t, Literals(n), Literals(parsed))
		})
	}
}

func TestParse_ExactTree(t *testing.T) {
	n, err := Parse(`"debt" | ("lien" & !"tax")`)
	require.NoError(t, err)
	assert.Equal(t, fixtures()["nested"], n)
}

func TestParse_BareWords(t *testing.T) {
	n, err := Parse(`liens | negative-pledge`)
	require.NoError(t, err)
	assert.Equal(t, Or{Nodes: []Node{Match{Value: "liens"}, Match{Value: "negative-pledge"}}}, n)
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":        ``,
		"unterminated": `"debt`,
		"dangling op":  `"debt" |`,
		"unclosed":     `("debt"`,
		"bad escape":   `"a\nb"`,
		"trailing":     `"debt" )`,
		"only negated": `!"tax"`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	data, err := Encode(fixtures()["grouped"])
	require.NoError(t, err)

	n, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, fixtures()["grouped"], n)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":       ``,
		"malformed":   `{"op":`,
		"unknown op":  `{"op":"xor","children":[]}`,
		"empty and":   `{"op":"and"}`,
		"blank value": `{"op":"match","value":"  "}`,
		"nil child":   `{"op":"not"}`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(src))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestValidate_DepthGuardrail(t *testing.T) {
	var n Node = Match{Value: "x"}
	for i := 0; i < MaxDepth; i++ {
		n = And{Nodes: []Node{n}}
	}
	err := Validate(n)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reason, "depth")

	// One level shallower is accepted.
	var ok Node = Match{Value: "x"}
	for i := 0; i < MaxDepth-1; i++ {
		ok = And{Nodes: []Node{ok}}
	}
	require.NoError(t, Validate(ok))
	assert.Equal(t, MaxDepth, Measure(ok).Depth)
}

func TestDecode_DepthGuardrail(t *testing.T) {
	src := strings.Repeat(`{"op":"not","child":`, MaxDepth) + `{"op":"match","value":"x"}` + strings.Repeat(`}`, MaxDepth)
	_, err := Decode([]byte(src))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reason, "depth")
}

func TestValidate_NodeGuardrail(t *testing.T) {
	values := make([]string, MaxNodes)
	for i := range values {
		values[i] = "v"
	}
	err := Validate(Any(values...))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Reason, "node count")
}

func TestLiterals(t *testing.T) {
	n := fixtures()["nested"]
	assert.Equal(t, []string{"debt", "lien"}, Literals(n))
	assert.Equal(t, []string{"tax"}, NegatedLiterals(n))

	double := Not{Node: Not{Node: Match{Value: "kept"}}}
	assert.Equal(t, []string{"kept"}, Literals(double))
	assert.Empty(t, NegatedLiterals(double))
}

func TestLiterals_Dedup(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Literals(Any("a", "b", "a")))
}
