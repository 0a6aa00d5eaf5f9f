package config

import (
	"embed"
	"io/fs"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"lsmcp/src/internal/common"
	lsperrors "lsmcp/src/internal/errors"
)

// The registry directory is compiled into the binary; one TOML file per
// package. It is kept in sync with the upstream catalog by a build-time tool.
//
//go:embed registry/*.toml
var registryFS embed.FS

// RegistryPackages parses the embedded registry. File-name order fixes the
// tie-break order within this tier.
func RegistryPackages() ([]LspPackage, error) {
	entries, err := fs.Glob(registryFS, "registry/*.toml")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)

	packages := make([]LspPackage, 0, len(entries))
	for _, name := range entries {
		data, err := registryFS.ReadFile(name)
		if err != nil {
			return nil, err
		}

		var pkg LspPackage
		if err := toml.Unmarshal(data, &pkg); err != nil {
			// A broken registry file is a packaging defect, not a user
			// error; skip it rather than refusing to start.
			common.CLILogger.Warn("Skipping malformed registry file %s: %v", name, err)
			continue
		}
		if pkg.Name == "" {
			common.CLILogger.Warn("Skipping registry file %s: missing package name", name)
			continue
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

// parseUserConfig decodes a user configuration file.
func parseUserConfig(path string, data []byte) (*UserConfig, error) {
	var cfg UserConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, &lsperrors.ConfigError{Path: path, Cause: err}
	}
	return &cfg, nil
}
