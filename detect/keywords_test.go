package detect

import "testing"

func TestFoldText(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"FIRMA:", "firma"},
		{"Firmá", "firma"},
		{"  Sign   here:  ", "sign here"},
		{"Unterschrift/Datum", "unterschrift datum"},
		{"", ""},
		{"::", ""},
	}
	for _, tt := range tests {
		if got := FoldText(tt.input); got != tt.expected {
			t.Errorf("FoldText(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestMatchKeyword(t *testing.T) {
	tests := []struct {
		text    string
		keyword string
		matched bool
	}{
		{"Firma:", "firma", true},
		{"NOMBRE Y FIRMA", "firma", true},
		{"Please sign here", "sign here", true},
		{"Signature of applicant", "signature", true},
		{"Firmamento", "", false},
		{"Total:", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		kw, ok := MatchKeyword(tt.text, DefaultKeywords)
		if ok != tt.matched {
			t.Errorf("MatchKeyword(%q) matched = %v, want %v", tt.text, ok, tt.matched)
			continue
		}
		if ok && kw != tt.keyword {
			t.Errorf("MatchKeyword(%q) = %q, want %q", tt.text, kw, tt.keyword)
		}
	}
}
