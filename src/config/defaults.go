package config

// DefaultPackages returns the built-in package descriptions that provide
// zero-config support for the most common languages. Order matters: it is
// the tie-break order for extension and language lookup within this tier.
func DefaultPackages() []LspPackage {
	return []LspPackage{
		{
			Name:           "typescript-language-server",
			Description:    "TypeScript & JavaScript Language Server",
			Homepage:       "https://github.com/typescript-language-server/typescript-language-server",
			Licenses:       []string{"MIT"},
			Languages:      []string{"typescript", "javascript", "typescriptreact", "javascriptreact"},
			FileExtensions: []string{"ts", "tsx", "js", "jsx", "mjs", "cjs"},
			Source: InstallSource{
				Type:    SourceNpm,
				Package: "typescript-language-server",
				Command: "typescript-language-server",
			},
			Bin: BinaryConfig{
				Primary: "typescript-language-server",
				LspArgs: []string{"--stdio"},
			},
		},
		{
			Name:           "pyright",
			Description:    "Static type checker and language server for Python",
			Homepage:       "https://github.com/microsoft/pyright",
			Licenses:       []string{"MIT"},
			Languages:      []string{"python"},
			FileExtensions: []string{"py", "pyi"},
			Source: InstallSource{
				Type:    SourceNpm,
				Package: "pyright",
				Command: "pyright-langserver",
			},
			Bin: BinaryConfig{
				Primary:    "pyright-langserver",
				Additional: []string{"pyright"},
				LspArgs:    []string{"--stdio"},
			},
		},
		{
			Name:           "rust-analyzer",
			Description:    "Implementation of Language Server Protocol for Rust",
			Homepage:       "https://rust-analyzer.github.io/",
			Licenses:       []string{"MIT", "Apache-2.0"},
			Languages:      []string{"rust"},
			FileExtensions: []string{"rs"},
			Source: InstallSource{
				Type:    SourceExternal,
				Command: "rust-analyzer",
			},
			Bin: BinaryConfig{
				Primary: "rust-analyzer",
			},
		},
		{
			Name:           "gopls",
			Description:    "Official Go language server",
			Homepage:       "https://github.com/golang/tools/tree/master/gopls",
			Licenses:       []string{"BSD-3-Clause"},
			Languages:      []string{"go"},
			FileExtensions: []string{"go"},
			Source: InstallSource{
				Type:    SourceExternal,
				Command: "gopls",
			},
			Bin: BinaryConfig{
				Primary: "gopls",
			},
		},
	}
}
