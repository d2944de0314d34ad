package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	dotenvPath string
	dotenvErr  error
)

// LoadDotEnv loads the first .env file found from the working directory up
// to the filesystem root. Variables already set in the environment win.
// Later calls are no-ops. Tests skip it unless FLASHER_TEST_LOAD_DOTENV=1.
func LoadDotEnv() error {
	if runningUnderGoTest() && os.Getenv("FLASHER_TEST_LOAD_DOTENV") != "1" {
		return nil
	}
	dotenvOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			dotenvErr = err
			return
		}
		path, err := findDotEnv(wd)
		if err != nil {
			dotenvErr = err
			slog.Debug("dotenv_search_failed", "error", err)
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			dotenvErr = err
			slog.Warn("dotenv_load_failed", "path", path, "error", err)
			return
		}
		dotenvPath = path
		slog.Debug("dotenv_loaded", "path", path)
	})
	return dotenvErr
}

// LoadedDotEnv returns the .env path that was loaded, or ""
func LoadedDotEnv() string {
	return dotenvPath
}

// runningUnderGoTest reports whether the process is a go test binary
func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
