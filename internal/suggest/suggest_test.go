package suggest

import (
	"reflect"
	"testing"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"app_id", "app_id", 0},
		{"appid", "app_id", 1},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestClosest(t *testing.T) {
	keys := []string{"app_id", "master_key", "mount_path", "rest_key", "server_url"}

	if got := Closest("appid", keys); !reflect.DeepEqual(got, []string{"app_id"}) {
		t.Errorf("Closest(appid) = %v", got)
	}
	if got := Closest("--Server_Url", keys); !reflect.DeepEqual(got, []string{"server_url"}) {
		t.Errorf("Closest(--Server_Url) = %v", got)
	}
	if got := Closest("zzzzzzzz", keys); got != nil {
		t.Errorf("Closest(zzzzzzzz) = %v, want none", got)
	}
}
