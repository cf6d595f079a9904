package transcript

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t\n  ", ""},
		{"plain text untouched", "the quick brown fox", "the quick brown fox"},
		{"consecutive duplicates", "hello hello world world", "hello world"},
		{"triple repeat", "no no no stop", "no stop"},
		{"non-adjacent repeat kept", "well well it is well", "well it is well"},
		{"case sensitive dedupe", "New new york", "New new york"},
		{"bracket annotation", "hello [noise] world", "hello world"},
		{"paren annotation", "hello world (skip)", "hello world"},
		{"brace annotation", "hello {applause} world", "hello world"},
		{"all annotation kinds", "hello [noise] world (skip)", "hello world"},
		{"annotation only", "[BLANK_AUDIO]", ""},
		{"adjacent annotations", "[a](b){c} done", "done"},
		{"space runs collapse", "too   many    spaces", "too many spaces"},
		{"surrounding whitespace", "  trimmed  ", "trimmed"},
		{"mixed", "  so so  [um] anyway  (cough) anyway done ", "so anyway anyway done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
