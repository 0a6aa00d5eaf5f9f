package config

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"lsmcp/src/internal/common"
	lsperrors "lsmcp/src/internal/errors"
)

// Well-known LSP language identifiers for extensions whose identifier is not
// simply the first language of the claiming package.
var extensionLanguageIDs = map[string]string{
	"ts":  "typescript",
	"tsx": "typescriptreact",
	"js":  "javascript",
	"jsx": "javascriptreact",
	"mjs": "javascript",
	"cjs": "javascript",
	"c":   "c",
	"h":   "c",
	"cc":  "cpp",
	"cpp": "cpp",
	"cxx": "cpp",
	"hpp": "cpp",
	"hxx": "cpp",
}

// Loader holds the merged package tiers and answers extension and language
// lookups. It is immutable after construction and safe for concurrent use.
type Loader struct {
	packages  []LspPackage
	byName    map[string]*LspPackage
	overrides map[string]string
	settings  Settings

	// Binary search locations, injectable for tests.
	serversDir string
	masonDir   string
	lookPath   func(string) (string, error)
}

// NewLoader builds the resolver from the built-in defaults, the embedded
// registry and the first user configuration file found. A malformed user file
// is fatal; a missing one is not.
func NewLoader() (*Loader, error) {
	registry, err := RegistryPackages()
	if err != nil {
		return nil, err
	}

	var user *UserConfig
	cwd, _ := os.Getwd()
	for _, path := range common.UserConfigCandidates(cwd) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &lsperrors.ConfigError{Path: path, Cause: err}
		}
		user, err = parseUserConfig(path, data)
		if err != nil {
			return nil, err
		}
		common.CLILogger.Debug("Loaded user configuration from %s", path)
		break
	}

	return newLoaderFromTiers(user, registry, DefaultPackages())
}

// newLoaderFromTiers wires a loader from explicit tiers. Tests use it to
// avoid touching the real filesystem and environment.
func newLoaderFromTiers(user *UserConfig, registry, defaults []LspPackage) (*Loader, error) {
	l := &Loader{
		byName:     make(map[string]*LspPackage),
		overrides:  make(map[string]string),
		serversDir: common.ServersDir(),
		masonDir:   common.MasonBinDir(),
		lookPath:   exec.LookPath,
	}

	// Lower tiers first: registry entries shadow defaults with the same name.
	base := make([]LspPackage, 0, len(registry)+len(defaults))
	seen := make(map[string]bool)
	for _, pkg := range append(append([]LspPackage{}, registry...), defaults...) {
		if seen[pkg.Name] {
			continue
		}
		seen[pkg.Name] = true
		base = append(base, pkg)
	}

	if user != nil {
		l.settings = user.Settings

		// User-configured packages move to the front of the lookup order.
		// Map iteration order is undefined, so sort the names.
		names := make([]string, 0, len(user.LSP))
		for name := range user.LSP {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			o := user.LSP[name]
			idx := -1
			for i := range base {
				if base[i].Name == name {
					idx = i
					break
				}
			}
			if idx >= 0 {
				merged := applyOverride(base[idx], o)
				base = append(base[:idx], base[idx+1:]...)
				l.packages = append(l.packages, merged)
				continue
			}
			pkg, err := packageFromOverride(name, o)
			if err != nil {
				return nil, err
			}
			l.packages = append(l.packages, pkg)
		}

		for lang, name := range user.LanguageOverrides {
			l.overrides[lang] = name
		}
	}
	l.packages = append(l.packages, base...)

	for i := range l.packages {
		pkg := &l.packages[i]
		if _, dup := l.byName[pkg.Name]; !dup {
			l.byName[pkg.Name] = pkg
		}
	}

	// language_overrides must name packages that exist after the merge.
	for lang, name := range l.overrides {
		if _, ok := l.byName[name]; !ok {
			return nil, &lsperrors.ConfigError{
				Path:  "language_overrides",
				Cause: &lsperrors.InvalidArgumentError{Parameter: lang, Message: "unknown package '" + name + "'"},
			}
		}
	}

	return l, nil
}

// packageFromOverride turns a user [lsp.<name>] table with no lower-tier
// counterpart into a full package definition.
func packageFromOverride(name string, o PackageOverride) (LspPackage, error) {
	pkg := applyOverride(LspPackage{Name: name}, o)
	if pkg.Bin.Primary == "" {
		return LspPackage{}, &lsperrors.ConfigError{
			Path:  "lsp." + name,
			Cause: &lsperrors.InvalidArgumentError{Parameter: "bin.primary", Message: "required for packages not in the registry"},
		}
	}
	if pkg.Source.Type == "" {
		pkg.Source = InstallSource{Type: SourceExternal, Command: pkg.Bin.Primary}
	}
	return pkg, nil
}

// Packages returns the merged package list in lookup order.
func (l *Loader) Packages() []LspPackage {
	return l.packages
}

// Settings returns the [settings] table of the user configuration.
func (l *Loader) Settings() Settings {
	return l.settings
}

// LanguageForFile maps a file path to the LSP language identifier of the
// package claiming its extension.
func (l *Loader) LanguageForFile(path string) (string, error) {
	ext := fileExtension(path)
	if ext == "" {
		return "", &lsperrors.UnsupportedExtensionError{}
	}
	_, lang := l.packageForExtension(ext)
	if lang == "" {
		return "", &lsperrors.UnsupportedExtensionError{Extension: ext}
	}
	return lang, nil
}

// Resolve maps a file path to the command for its language server, walking
// extension, language override and binary search in that order.
func (l *Loader) Resolve(filePath string) (*ResolvedCommand, error) {
	ext := fileExtension(filePath)
	if ext == "" {
		return nil, &lsperrors.UnsupportedExtensionError{}
	}
	pkg, lang := l.packageForExtension(ext)
	if pkg == nil {
		return nil, &lsperrors.UnsupportedExtensionError{Extension: ext}
	}
	if name, ok := l.overrides[lang]; ok {
		pkg = l.byName[name]
	}
	return l.resolvePackage(pkg, lang)
}

// ResolveLanguage maps a language identifier directly to its server command.
func (l *Loader) ResolveLanguage(lang string) (*ResolvedCommand, error) {
	pkg, err := l.PackageForLanguage(lang)
	if err != nil {
		return nil, err
	}
	return l.resolvePackage(pkg, lang)
}

// PackageForLanguage finds the package serving a language identifier,
// honoring [language_overrides].
func (l *Loader) PackageForLanguage(lang string) (*LspPackage, error) {
	if name, ok := l.overrides[lang]; ok {
		return l.byName[name], nil
	}
	for i := range l.packages {
		for _, candidate := range l.packages[i].Languages {
			if candidate == lang {
				return &l.packages[i], nil
			}
		}
	}
	return nil, &lsperrors.InvalidArgumentError{
		Parameter: "language",
		Message:   "no language server configured for '" + lang + "'",
	}
}

// FindBinary locates the executable for a package without building a full
// command. The list subcommand uses it to report install status.
func (l *Loader) FindBinary(pkg *LspPackage) (string, bool) {
	path, err := l.findBinary(pkg)
	return path, err == nil
}

func (l *Loader) resolvePackage(pkg *LspPackage, lang string) (*ResolvedCommand, error) {
	path, err := l.findBinary(pkg)
	if err != nil {
		return nil, &lsperrors.NotInstalledError{
			Language: lang,
			Package:  pkg.Name,
			Binary:   pkg.Bin.Primary,
			Hint:     pkg.Source.InstallHint(),
		}
	}
	return &ResolvedCommand{
		Path:       path,
		Args:       pkg.Bin.LspArgs,
		LanguageID: lang,
		Package:    pkg,
	}, nil
}

// findBinary walks the search locations in priority order: an absolute
// configured path verbatim, the lsmcp-managed servers directory, the Mason
// bin directory, then PATH. Additional binary names are tried as fallbacks
// at every location.
func (l *Loader) findBinary(pkg *LspPackage) (string, error) {
	names := append([]string{pkg.Bin.Primary}, pkg.Bin.Additional...)

	for _, name := range names {
		if name == "" {
			continue
		}
		if filepath.IsAbs(name) {
			if isExecutableFile(name) {
				return name, nil
			}
			continue
		}
		if candidate := filepath.Join(l.serversDir, pkg.Name, name); isExecutableFile(candidate) {
			return candidate, nil
		}
		if candidate := filepath.Join(l.masonDir, name); isExecutableFile(candidate) {
			return candidate, nil
		}
		if path, err := l.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", os.ErrNotExist
}

// packageForExtension returns the first package claiming the extension along
// with the language identifier to open files of that extension with.
func (l *Loader) packageForExtension(ext string) (*LspPackage, string) {
	for i := range l.packages {
		pkg := &l.packages[i]
		for _, candidate := range pkg.FileExtensions {
			if candidate != ext {
				continue
			}
			if lang, ok := extensionLanguageIDs[ext]; ok && containsString(pkg.Languages, lang) {
				return pkg, lang
			}
			if len(pkg.Languages) > 0 {
				return pkg, pkg.Languages[0]
			}
			return pkg, ""
		}
	}
	return nil, ""
}

func fileExtension(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return strings.ToLower(ext)
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
