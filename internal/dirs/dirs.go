// Package dirs provides standard directory resolution for launchall.
// It follows the XDG base directory conventions with a home-directory
// fallback for platforms where XDG isn't set up (e.g., macOS).
package dirs

import (
	"os"
	"path/filepath"
)

// ConfigFileName is the name of the launch file inside ConfigDir.
const ConfigFileName = "launch.toml"

// ConfigDir returns the directory holding launchall's configuration.
// Priority: $XDG_CONFIG_HOME/launchall > ~/.config/launchall > $TMPDIR/launchall
func ConfigDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "launchall")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", "launchall")
	}
	return filepath.Join(os.TempDir(), "launchall")
}

// ConfigFile returns the launch file path and whether it was chosen
// explicitly by the user.
// Priority: $LAUNCHALL_CONFIG > ConfigDir()/launch.toml
func ConfigFile() (path string, explicit bool) {
	if v := os.Getenv("LAUNCHALL_CONFIG"); v != "" {
		return v, true
	}
	return filepath.Join(ConfigDir(), ConfigFileName), false
}
