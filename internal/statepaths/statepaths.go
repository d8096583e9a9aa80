// Package statepaths resolves where on-disk state lives. Everything defaults
// under ~/.micromanager; viper keys override per concern.
package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const stateDirName = ".micromanager"

// StateDir returns the root state directory, honoring file_state_dir.
func StateDir() string {
	if dir := strings.TrimSpace(viper.GetString("file_state_dir")); dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return stateDirName
	}
	return filepath.Join(home, stateDirName)
}

// WorkplanCachePath returns where the surface caches fetched workplans.
func WorkplanCachePath() string {
	if p := strings.TrimSpace(viper.GetString("workplan.cache_path")); p != "" {
		return expandHome(p)
	}
	return filepath.Join(StateDir(), "workplans.json")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
	}
	return p
}
