package config

import "testing"

func TestInterpolate(t *testing.T) {
	env := Env{"NAME": "worker", "EMPTY": ""}

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${NAME}", "worker"},
		{"prefix-${NAME}-suffix", "prefix-worker-suffix"},
		{"${UNSET}", ""},
		{"${UNSET:-fallback}", "fallback"},
		{"${NAME:-fallback}", "worker"},
		{"${EMPTY:-fallback}", "fallback"},
		{"${A:-x} ${B:-y}", "x y"},
		{"$NAME", "$NAME"}, // bare $VAR is not interpolated
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := env.Interpolate(tt.in); got != tt.want {
				t.Errorf("Interpolate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadEnv_ProcessWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "HERDCTL_TEST_ONLY_DOTENV=from-dotenv\nPATH=clobbered\n")

	env := LoadEnv(dir)
	if env["HERDCTL_TEST_ONLY_DOTENV"] != "from-dotenv" {
		t.Errorf("dotenv value not merged: %q", env["HERDCTL_TEST_ONLY_DOTENV"])
	}
	if env["PATH"] == "clobbered" {
		t.Error("dotenv overrode an existing process variable")
	}
}
