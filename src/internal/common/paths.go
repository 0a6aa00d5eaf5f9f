package common

import (
	"os"
	"path/filepath"
)

// ConfigHome returns the base directory for user configuration files,
// honoring XDG_CONFIG_HOME with the conventional ~/.config fallback.
func ConfigHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// DataHome returns the base directory for user data files, honoring
// XDG_DATA_HOME with the conventional ~/.local/share fallback.
func DataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share")
}

// ServersDir returns the directory where lsmcp-managed language server
// binaries live: ~/.local/share/lsmcp/servers. The directory is only ever
// read, never written.
func ServersDir() string {
	return filepath.Join(DataHome(), "lsmcp", "servers")
}

// MasonBinDir returns the bin directory used by Mason-managed installs.
func MasonBinDir() string {
	return filepath.Join(DataHome(), "nvim", "mason", "bin")
}

// UserConfigCandidates returns the user configuration file paths in priority
// order: project-local .lsmcp.toml, the LSMCP_CONFIG override, then the
// global config under the XDG config home.
func UserConfigCandidates(cwd string) []string {
	var candidates []string
	if cwd != "" {
		candidates = append(candidates, filepath.Join(cwd, ".lsmcp.toml"))
	}
	if path := os.Getenv("LSMCP_CONFIG"); path != "" {
		candidates = append(candidates, path)
	}
	if cfg := ConfigHome(); cfg != "" {
		candidates = append(candidates, filepath.Join(cfg, "lsmcp", "config.toml"))
	}
	return candidates
}

// DetectWorkspaceRoot resolves the workspace root for this process. An
// explicit path wins; otherwise the nearest ancestor of the working
// directory containing a .git entry is used, falling back to the working
// directory itself.
func DetectWorkspaceRoot(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return cwd, nil
}
