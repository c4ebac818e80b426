package validation

import "testing"

func TestParsePage(t *testing.T) {
	tests := []struct {
		name     string
		pageRaw  string
		sizeRaw  string
		wantPage int
		wantSize int
	}{
		{name: "empty values use defaults", pageRaw: "", sizeRaw: "", wantPage: 1, wantSize: 20},
		{name: "valid values", pageRaw: "3", sizeRaw: "50", wantPage: 3, wantSize: 50},
		{name: "zero page falls back", pageRaw: "0", sizeRaw: "10", wantPage: 1, wantSize: 10},
		{name: "negative page falls back", pageRaw: "-2", sizeRaw: "10", wantPage: 1, wantSize: 10},
		{name: "garbage falls back", pageRaw: "abc", sizeRaw: "xyz", wantPage: 1, wantSize: 20},
		{name: "size capped at maximum", pageRaw: "1", sizeRaw: "500", wantPage: 1, wantSize: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size := ParsePage(tt.pageRaw, tt.sizeRaw)
			if page != tt.wantPage || size != tt.wantSize {
				t.Errorf("ParsePage(%q, %q) = (%d, %d), want (%d, %d)",
					tt.pageRaw, tt.sizeRaw, page, size, tt.wantPage, tt.wantSize)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback int
		want     int
	}{
		{name: "empty uses fallback", raw: "", fallback: 10, want: 10},
		{name: "valid value", raw: "25", fallback: 10, want: 25},
		{name: "zero uses fallback", raw: "0", fallback: 10, want: 10},
		{name: "garbage uses fallback", raw: "ten", fallback: 10, want: 10},
		{name: "capped at maximum", raw: "1000", fallback: 10, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLimit(tt.raw, tt.fallback); got != tt.want {
				t.Errorf("ParseLimit(%q, %d) = %d, want %d", tt.raw, tt.fallback, got, tt.want)
			}
		})
	}
}
