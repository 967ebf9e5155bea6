package keymatch

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
		wantErr bool
	}{
		{"exact match", "user:123", "user:123", true, false},
		{"exact no match", "user:123", "user:456", false, false},
		{"prefix match", "users:*", "users:123", true, false},
		{"prefix match nested", "users:*", "users:abc:profile", true, false},
		{"prefix no match", "users:*", "sessions:123", false, false},
		{"wildcard all", "*", "any:key:here", true, false},
		{"middle wildcard", "user:*:profile", "user:123:profile", true, false},
		{"middle wildcard no match", "user:*:profile", "user:123:settings", false, false},
		{"question mark", "user:?", "user:1", true, false},
		{"question mark no match", "user:?", "user:12", false, false},
		{"multiple wildcards", "user:*:*", "user:123:profile", true, false},
		{"empty pattern errors", "", "key", false, true},
		{"pattern longer than key", "user:123:456", "user:123", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.pattern, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Match() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Match(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestMatchRawRegexPassthrough(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"user:[0-9]+", "user:123", true},
		{"user:[0-9]+", "user:abc", false},
		{"user:(123|456)", "user:123", true},
		{"user:(123|456)", "user:789", false},
	}
	for _, tt := range tests {
		got, err := Match(tt.pattern, tt.key)
		if err != nil {
			t.Fatalf("Match(%q, %q): %v", tt.pattern, tt.key, err)
		}
		if got != tt.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestFilter(t *testing.T) {
	keys := []string{"users:1", "users:2", "sessions:1"}

	got, err := Filter("users:*", keys)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Filter(\"users:*\") = %v, want 2 matches", got)
	}
}

func TestFilterRejectsEmptyPattern(t *testing.T) {
	if _, err := Filter("", []string{"a"}); err == nil {
		t.Fatal("expected error for empty pattern")
	}
}
