package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// DotEnvPaths are loaded in order. Variables already set in the
// environment, or by an earlier file, are never overridden.
func DotEnvPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".ggml-sys", ".env"))
	}
	return append(paths, ".env")
}

// LoadDotEnv loads every existing file of DotEnvPaths. Missing files are
// skipped without an error.
func LoadDotEnv() error {
	for _, path := range DotEnvPaths() {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return fmt.Errorf("failed to check if .env file exists: %w", err)
		}

		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("could not load %s: %w", path, err)
		}
	}
	return nil
}
