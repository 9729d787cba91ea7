package venue

import "testing"

func TestSplitProtectiveID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		tag      string
		wantBase string
		wantKind string
		wantOK   bool
	}{
		{"stop loss", "grid-1a2b3c4d5e6f7a8b-sl", "grid", "grid-1a2b3c4d5e6f7a8b", protSuffixSL, true},
		{"take profit", "grid-1a2b3c4d5e6f7a8b-tp", "grid", "grid-1a2b3c4d5e6f7a8b", protSuffixTP, true},
		{"entry order itself", "grid-1a2b3c4d5e6f7a8b", "grid", "", "", false},
		{"foreign tag", "other-1a2b3c4d5e6f7a8b-sl", "grid", "", "", false},
		{"tag is a prefix of another tag", "gridpilot-1a2b3c4d-sl", "grid", "", "", false},
		{"unrelated client id", "web_abcdef", "grid", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, kind, ok := splitProtectiveID(tt.id, tt.tag)
			if ok != tt.wantOK || base != tt.wantBase || kind != tt.wantKind {
				t.Errorf("splitProtectiveID(%q, %q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.id, tt.tag, base, kind, ok, tt.wantBase, tt.wantKind, tt.wantOK)
			}
		})
	}
}
