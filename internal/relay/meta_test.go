package relay

import "testing"

func TestParseQueryMeta(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantHasQuery   bool
		wantQueryChars int
	}{
		{"query present", `{"query":"hello"}`, true, 5},
		{"multibyte counts runes", `{"query":"café"}`, true, 4},
		{"empty query", `{"query":""}`, true, 0},
		{"no query field", `{"message":"hi"}`, false, 0},
		{"query not a string", `{"query":42}`, false, 0},
		{"not json", `plain text body`, false, 0},
		{"empty body", ``, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := ParseQueryMeta([]byte(tt.body))

			if meta.Bytes != int64(len(tt.body)) {
				t.Errorf("Bytes = %d, want %d", meta.Bytes, len(tt.body))
			}
			if meta.HasQuery != tt.wantHasQuery {
				t.Errorf("HasQuery = %v, want %v", meta.HasQuery, tt.wantHasQuery)
			}
			if meta.QueryChars != tt.wantQueryChars {
				t.Errorf("QueryChars = %d, want %d", meta.QueryChars, tt.wantQueryChars)
			}
		})
	}
}
