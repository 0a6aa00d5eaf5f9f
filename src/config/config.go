// Package config implements the three-tier configuration resolver that maps
// file extensions and language ids to concrete language server commands.
// Precedence, highest first: user config, embedded registry, built-in
// defaults.
package config

import "fmt"

// Install source types understood by the registry.
const (
	SourceExternal      = "External"
	SourceNpm           = "Npm"
	SourceCargo         = "Cargo"
	SourcePip           = "Pip"
	SourceGithubRelease = "GithubRelease"
)

// LspPackage is the declarative description of one language server.
type LspPackage struct {
	Name                  string                 `toml:"name"`
	Description           string                 `toml:"description,omitempty"`
	Homepage              string                 `toml:"homepage,omitempty"`
	Licenses              []string               `toml:"licenses,omitempty"`
	Languages             []string               `toml:"languages"`
	FileExtensions        []string               `toml:"file_extensions"`
	Source                InstallSource          `toml:"source"`
	Bin                   BinaryConfig           `toml:"bin"`
	InitializationOptions map[string]interface{} `toml:"initialization_options,omitempty"`
}

// InstallSource describes where the server binary comes from. Only the hint
// derived from it is consumed here; installation itself is external.
type InstallSource struct {
	Type    string `toml:"type"`
	Command string `toml:"command,omitempty"`
	Package string `toml:"package,omitempty"`
	Crate   string `toml:"crate,omitempty"`
	Repo    string `toml:"repo,omitempty"`
	Version string `toml:"version,omitempty"`
}

// InstallHint returns a human-readable installation suggestion for a missing
// binary, derived from the source type.
func (s InstallSource) InstallHint() string {
	switch s.Type {
	case SourceNpm:
		pkg := s.Package
		if pkg == "" {
			pkg = s.Command
		}
		return fmt.Sprintf("Install with: npm install -g %s", pkg)
	case SourceCargo:
		crate := s.Crate
		if crate == "" {
			crate = s.Command
		}
		return fmt.Sprintf("Install with: cargo install %s", crate)
	case SourcePip:
		pkg := s.Package
		if pkg == "" {
			pkg = s.Command
		}
		return fmt.Sprintf("Install with: pip install %s", pkg)
	case SourceGithubRelease:
		return fmt.Sprintf("Download a release from https://github.com/%s", s.Repo)
	default:
		if s.Command != "" {
			return fmt.Sprintf("Install '%s' with your system package manager", s.Command)
		}
		return "Install the server with your system package manager"
	}
}

// BinaryConfig names the executable and the arguments passed on spawn.
type BinaryConfig struct {
	Primary    string   `toml:"primary"`
	Additional []string `toml:"additional,omitempty"`
	LspArgs    []string `toml:"lsp_args,omitempty"`
}

// ResolvedCommand is the product of the resolver: an executable the host can
// exec plus the spawn arguments for a language.
type ResolvedCommand struct {
	Path          string
	Args          []string
	LanguageID    string
	WorkspaceRoot string
	Package       *LspPackage
}

// UserConfig mirrors the user-facing TOML file.
type UserConfig struct {
	Settings          Settings                   `toml:"settings"`
	LanguageOverrides map[string]string          `toml:"language_overrides"`
	LSP               map[string]PackageOverride `toml:"lsp"`
}

// Settings holds the [settings] table.
type Settings struct {
	LogLevel string `toml:"log_level,omitempty"`
}

// PackageOverride is a partial LspPackage: any field present replaces the
// corresponding field of the lower-tier package; absent fields fall through.
type PackageOverride struct {
	Description           *string                `toml:"description,omitempty"`
	Homepage              *string                `toml:"homepage,omitempty"`
	Licenses              []string               `toml:"licenses,omitempty"`
	Languages             []string               `toml:"languages,omitempty"`
	FileExtensions        []string               `toml:"file_extensions,omitempty"`
	Source                *InstallSource         `toml:"source,omitempty"`
	Bin                   *BinaryOverride        `toml:"bin,omitempty"`
	InitializationOptions map[string]interface{} `toml:"initialization_options,omitempty"`
}

// BinaryOverride is a partial BinaryConfig.
type BinaryOverride struct {
	Primary    *string  `toml:"primary,omitempty"`
	Additional []string `toml:"additional,omitempty"`
	LspArgs    []string `toml:"lsp_args,omitempty"`
}

// applyOverride merges a user override over a base package, field by field.
func applyOverride(base LspPackage, o PackageOverride) LspPackage {
	merged := base
	if o.Description != nil {
		merged.Description = *o.Description
	}
	if o.Homepage != nil {
		merged.Homepage = *o.Homepage
	}
	if o.Licenses != nil {
		merged.Licenses = o.Licenses
	}
	if o.Languages != nil {
		merged.Languages = o.Languages
	}
	if o.FileExtensions != nil {
		merged.FileExtensions = o.FileExtensions
	}
	if o.Source != nil {
		merged.Source = *o.Source
	}
	if o.Bin != nil {
		if o.Bin.Primary != nil {
			merged.Bin.Primary = *o.Bin.Primary
		}
		if o.Bin.Additional != nil {
			merged.Bin.Additional = o.Bin.Additional
		}
		if o.Bin.LspArgs != nil {
			merged.Bin.LspArgs = o.Bin.LspArgs
		}
	}
	if o.InitializationOptions != nil {
		merged.InitializationOptions = o.InitializationOptions
	}
	return merged
}
