// Package cli wires the cobra command tree.
package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lsmcp/src/config"
	"lsmcp/src/internal/common"
	"lsmcp/src/server"
)

var (
	workspaceFlag string
	logLevelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "lsmcp",
	Short: "MCP server exposing LSP code intelligence to AI assistants",
	Long: `lsmcp bridges the Model Context Protocol and the Language Server Protocol.

It runs as an MCP stdio server and spawns language servers on demand, one
per language, exposing read-only code intelligence tools:

  lsp_goto_definition      Where is this symbol defined?
  lsp_find_references      Who uses this symbol?
  lsp_hover                Type signature and docs at a position
  lsp_document_symbols     Outline of a file
  lsp_diagnostics          Compiler and linter findings for a file
  lsp_workspace_symbols    Search symbols across the workspace

Language servers are resolved through three configuration tiers: a user
config file (.lsmcp.toml, $LSMCP_CONFIG or the XDG config dir), the
embedded package registry, and built-in defaults for TypeScript, Python,
Rust and Go.

Run 'lsmcp list' to see known servers and their install status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known language servers and their install status",
	RunE:  runList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lsmcp version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "lsmcp", common.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "",
		"workspace root (default: nearest ancestor with .git, else cwd)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"log level: debug, info, warn, error (default from config, else info)")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func buildLoader() (*config.Loader, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	// The flag beats the [settings] table.
	level := loader.Settings().LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	common.SetGlobalLogLevel(common.ParseLogLevel(level))
	return loader, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, err := buildLoader()
	if err != nil {
		return err
	}

	root, err := common.DetectWorkspaceRoot(workspaceFlag)
	if err != nil {
		return fmt.Errorf("detect workspace root: %w", err)
	}

	manager := server.NewManager(loader, root)
	return server.NewMCPServer(manager).Run()
}

func runList(cmd *cobra.Command, args []string) error {
	loader, err := buildLoader()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tLANGUAGES\tEXTENSIONS\tSTATUS")
	for _, pkg := range loader.Packages() {
		status := "not installed"
		if path, ok := loader.FindBinary(&pkg); ok {
			status = path
		} else if hint := pkg.Source.InstallHint(); hint != "" {
			status = "not installed (" + hint + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			pkg.Name, strings.Join(pkg.Languages, ","), strings.Join(pkg.FileExtensions, ","), status)
	}
	return w.Flush()
}
