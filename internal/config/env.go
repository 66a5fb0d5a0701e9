package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Env holds the settings read from the process environment.
type Env struct {
	// Output is the store URI tiles are written to (BLKTILER_OUTPUT).
	Output string
	// Workers is the number of layers processed concurrently (BLKTILER_WORKERS).
	Workers int
	// GCS registers gs:// inputs with the raster engine (BLKTILER_GCS).
	GCS bool
}

// LoadEnv loads files (default .env) into the environment without overriding variables
// already set, then reads the BLKTILER_ variables. Missing files are ignored.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	env := Env{Output: os.Getenv("BLKTILER_OUTPUT")}
	if v := os.Getenv("BLKTILER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return env, fmt.Errorf("BLKTILER_WORKERS: invalid worker count %q", v)
		}
		env.Workers = n
	}
	if v := os.Getenv("BLKTILER_GCS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return env, fmt.Errorf("BLKTILER_GCS: %w", err)
		}
		env.GCS = b
	}
	return env, nil
}
