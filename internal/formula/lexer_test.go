package formula

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type tokenView struct {
	Kind  string
	Value string
}

func viewTokens(tokens []token) []tokenView {
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenView{Kind: t.kind.String(), Value: t.value})
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []tokenView
	}{
		{
			name:  "bmi",
			input: "{weight} / ({height} * {height})",
			want: []tokenView{
				{"variable", "weight"}, {"operator", "/"}, {"(", "("},
				{"variable", "height"}, {"operator", "*"}, {"variable", "height"},
				{")", ")"},
			},
		},
		{
			name:  "prefixed variables keep their prefix",
			input: "{ avg7:weight }-{measure:bp}",
			want: []tokenView{
				{"variable", "avg7:weight"}, {"operator", "-"}, {"variable", "measure:bp"},
			},
		},
		{
			name:  "function call with arguments",
			input: "round({a}, 2)",
			want: []tokenView{
				{"function", "round"}, {"(", "("}, {"variable", "a"}, {",", ","},
				{"number", "2"}, {")", ")"},
			},
		},
		{
			name:  "function names are case-insensitive",
			input: "SQRT(4)",
			want:  []tokenView{{"function", "sqrt"}, {"(", "("}, {"number", "4"}, {")", ")"}},
		},
		{
			name:  "unknown words become function tokens",
			input: "foo + 1.5",
			want:  []tokenView{{"function", "foo"}, {"operator", "+"}, {"number", "1.5"}},
		},
		{
			name:  "no whitespace needed",
			input: "2^3*4",
			want: []tokenView{
				{"number", "2"}, {"operator", "^"}, {"number", "3"}, {"operator", "*"}, {"number", "4"},
			},
		},
		{
			name:  "unterminated brace drops the rest",
			input: "1 + {weight",
			want:  []tokenView{{"number", "1"}, {"operator", "+"}},
		},
		{
			name:  "minus is always an operator token",
			input: "-1",
			want:  []tokenView{{"operator", "-"}, {"number", "1"}},
		},
		{
			name:  "empty input",
			input: "   ",
			want:  []tokenView{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := viewTokens(tokenize(tt.input))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("tokenize(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestTokenize_NumberValues(t *testing.T) {
	tokens := tokenize("1.75 .5 1e3")
	want := []float64{1.75, 0.5, 1000}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d", len(want), len(tokens))
	}
	for i, tok := range tokens {
		if tok.kind != tkNumber {
			t.Errorf("token %d: expected number, got %s", i, tok.kind)
		}
		if tok.num != want[i] {
			t.Errorf("token %d: expected %v, got %v", i, want[i], tok.num)
		}
	}
}

func TestIsNumeric(t *testing.T) {
	for _, s := range []string{"1", "1.5", ".5", "10e2"} {
		if !isNumeric(s) {
			t.Errorf("isNumeric(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "inf", "NaN", "0x10", "abc", "1.2.3"} {
		if isNumeric(s) {
			t.Errorf("isNumeric(%q) = true, want false", s)
		}
	}
}
