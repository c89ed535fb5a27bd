package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"release", Info{Version: "v1.2.3", Commit: "0123456789abcdef", Date: "2025-01-01"}, "v1.2.3 (0123456, built 2025-01-01)"},
		{"no date", Info{Version: "v1.2.3", Commit: "0123456789abcdef", Date: "unknown"}, "v1.2.3 (0123456)"},
		{"no commit", Info{Version: "development", Commit: "unknown", Date: "unknown"}, "development"},
		{"short commit", Info{Version: "v1", Commit: "abc", Date: "2025-01-01"}, "v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinkTimeValuesWin(t *testing.T) {
	oldV, oldC, oldD := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldV, oldC, oldD })

	Version, Commit, Date = "v9.9.9", "feedfacecafebeef", "2030-01-01"
	info := GetInfo()
	if info.Version != "v9.9.9" || info.Commit != "feedfacecafebeef" || info.Date != "2030-01-01" {
		t.Errorf("GetInfo() = %+v", info)
	}
	if info.Package != "zkfuse" {
		t.Errorf("Package = %q", info.Package)
	}

	var buf bytes.Buffer
	Fprint(&buf, "zkfuse")
	if !strings.HasPrefix(buf.String(), "zkfuse version v9.9.9 (feedfac, built 2030-01-01)\n") {
		t.Errorf("Fprint wrote %q", buf.String())
	}
}
