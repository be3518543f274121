package vault

import (
	"strings"
	"testing"
)

func TestAllocateKeysAreDisjoint(t *testing.T) {
	a := NewAllocator("resources")
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := a.Allocate("teacher-1", "worksheet.pdf")
		if !strings.HasPrefix(key, "resources/teacher-1/") {
			t.Fatalf("key %q not under owner namespace", key)
		}
		if !strings.HasSuffix(key, ".pdf") {
			t.Fatalf("key %q lost the file extension", key)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q for identical uploads", key)
		}
		seen[key] = true
	}
}

func TestAuthorize(t *testing.T) {
	a := NewAllocator("resources")
	tests := []struct {
		name  string
		key   string
		owner string
		want  bool
	}{
		{"own key", "resources/teacher-1/abc.pdf", "teacher-1", true},
		{"other owner", "resources/teacher-1/abc.pdf", "teacher-2", false},
		{"traversal out of namespace", "resources/teacher-1/../teacher-2/abc.pdf", "teacher-1", false},
		{"traversal back in still rejected for victim", "resources/teacher-2/../teacher-1/../teacher-2/x.pdf", "teacher-1", false},
		{"outside prefix", "other/teacher-1/abc.pdf", "teacher-1", false},
		{"empty remainder", "resources/teacher-1/", "teacher-1", false},
		{"empty owner", "resources//abc.pdf", "", false},
		{"owner with slash", "resources/a/b/abc.pdf", "a/b", false},
		{"backslash in key", "resources/teacher-1\\abc.pdf", "teacher-1", false},
		{"nul in key", "resources/teacher-1/a\x00b.pdf", "teacher-1", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.Authorize(tc.key, tc.owner); got != tc.want {
				t.Fatalf("Authorize(%q, %q) = %v, want %v", tc.key, tc.owner, got, tc.want)
			}
		})
	}
}

func TestNewAllocatorDefaultsPrefix(t *testing.T) {
	a := NewAllocator("")
	key := a.Allocate("teacher-1", "a.txt")
	if !strings.HasPrefix(key, "resources/teacher-1/") {
		t.Fatalf("expected default prefix, got %q", key)
	}
}
