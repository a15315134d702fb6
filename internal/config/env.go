package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Interpolation patterns, most specific first so ${VAR:-default} is not
// half-eaten by the plain ${VAR} form.
var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Env is the interpolation environment: process env optionally overlaid with
// a .env file. Process values always win.
type Env map[string]string

// LoadEnv builds the interpolation environment for a config rooted at dir.
// A .env file next to the root config is merged in without overriding
// variables already present in the process environment.
func LoadEnv(dir string) Env {
	env := Env{}

	if dotenv, err := godotenv.Read(filepath.Join(dir, ".env")); err == nil {
		for k, v := range dotenv {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	return env
}

// Interpolate expands ${VAR} and ${VAR:-default} references in s against the
// environment. Unset variables without a default expand to the empty string.
func (e Env) Interpolate(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if v, ok := e[parts[1]]; ok && v != "" {
			return v
		}
		return parts[2]
	})

	return envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return e[parts[1]]
	})
}
