package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Semver
	}{
		{"v1.2.3", Semver{Major: 1, Minor: 2, Patch: 3}},
		{"1.2.3", Semver{Major: 1, Minor: 2, Patch: 3}},
		{"2", Semver{Major: 2}},
		{"v2.0.0-beta", Semver{Major: 2, Prerelease: "beta"}},
		{"1.0.0-rc1+build.7", Semver{Major: 1, Prerelease: "rc1", Metadata: "build.7"}},
		{"dev", Semver{Prerelease: "dev"}},
		{"dev-abc1234", Semver{Prerelease: "dev", Metadata: "abc1234"}},
		{"dev-abc1234-dirty", Semver{Prerelease: "dev", Metadata: "abc1234-dirty"}},
		{"nightly", Semver{Prerelease: "unknown"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Parse(tt.input); got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSemver_String(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"v1.2.3", "1.2.3"},
		{"1.2", "1.2.0"},
		{"2.0.0-beta", "2.0.0-beta"},
		{"dev", "dev"},
		{"dev-abc1234", "dev-abc1234"},
		{"garbage", "dev"},
	}

	for _, tt := range tests {
		if got := Parse(tt.input).String(); got != tt.want {
			t.Errorf("Parse(%q).String() = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnvironment(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"dev", "development"},
		{"dev-abc1234", "development"},
		{"", "development"},
		{"1.4.0-rc2", "prerelease"},
		{"v1.4.0", "production"},
	}

	for _, tt := range tests {
		if got := Environment(tt.input); got != tt.want {
			t.Errorf("Environment(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
