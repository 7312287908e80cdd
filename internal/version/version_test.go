package version

import (
	"strings"
	"testing"
)

func TestIsDevelopmentVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"", true},
		{"unknown", true},
		{"dev", true},
		{"devel", true},
		{"devel+abc123", true},
		{"devel+git.sha.abc123def", true},

		{"v0.1.0", false},
		{"0.1.0", false},
		{"1.0.0-beta", false},
		{"1.0.0-rc.1", false},

		// partial matches are releases
		{"develop", false},
		{"my-devel", false},
		{"DEV", false},
		{"dev1.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsDevelopmentVersion(tt.input)
			if got != tt.expected {
				t.Errorf("IsDevelopmentVersion(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestUpdateCommand(t *testing.T) {
	const ldflag = `go install -ldflags "-X github.com/marcus/objsync/internal/version.Version=`
	tests := []struct {
		version  string
		expected string
	}{
		{"v1.2.3", ldflag + `v1.2.3" github.com/marcus/objsync@v1.2.3`},
		{"1.2.3", ldflag + `1.2.3" github.com/marcus/objsync@1.2.3`},
		{"v0.3.0-beta", ldflag + `v0.3.0-beta" github.com/marcus/objsync@v0.3.0-beta`},
		{"v1.0.0-rc.1", ldflag + `v1.0.0-rc.1" github.com/marcus/objsync@v1.0.0-rc.1`},

		{"", ""},
		{"invalid", ""},

		// shell injection attempts
		{`"; rm -rf /`, ""},
		{"v1.2.3; echo pwned", ""},
		{"v1.2.3$(whoami)", ""},
		{"v1.2.3 && cat /etc/passwd", ""},
		{"../../.env", ""},

		{"v1.2.3--", ""},
		{"v1.2.3-", ""},
		{"v1.2.3-beta..rc", ""},
		{"v1.2.3-beta_release", ""},
		{"v1.2", ""},
		{"v1.2.3.4", ""},
		{"v1.a.3", ""},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got := UpdateCommand(tt.version)
			if got != tt.expected {
				t.Errorf("UpdateCommand(%q) = %q, want %q", tt.version, got, tt.expected)
			}
		})
	}
}

func TestCurrentPrefersStampedVersion(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "v2.0.1"
	if got := Current(); got != "v2.0.1" {
		t.Errorf("Current = %q, want v2.0.1", got)
	}
	if got := String(); !strings.HasPrefix(got, "objsync v2.0.1 (client ") {
		t.Errorf("String = %q", got)
	}

	Version = "dev"
	if got := Current(); got == "" {
		t.Error("Current returned empty string for dev build")
	}
}
