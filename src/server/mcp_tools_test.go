package server

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsp "go.lsp.dev/protocol"

	"lsmcp/src/config"
	lsperrors "lsmcp/src/internal/errors"
)

type toolFixture struct {
	server *MCPServer
	spawns *int32
	// clients records every fake client the factory handed out, by language.
	clients map[string]*fakeLanguageClient
}

func newToolFixture(t *testing.T) *toolFixture {
	t.Helper()
	m := NewManager(newFakeResolver(), "/w")
	f := &toolFixture{clients: make(map[string]*fakeLanguageClient)}
	var spawns int32
	f.spawns = &spawns
	m.newClient = func(ctx context.Context, resolved *config.ResolvedCommand) (LanguageClient, error) {
		atomic.AddInt32(&spawns, 1)
		client := newFakeLanguageClient(resolved.LanguageID)
		f.clients[resolved.LanguageID] = client
		return client, nil
	}
	f.server = NewMCPServer(m)
	return f
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return text.Text
}

func tempSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("package x\n"), 0o644))
	return path
}

func TestGotoDefinitionToolOutput(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.go")

	result, err := f.server.handleGotoDefinition(context.Background(), toolRequest("lsp_goto_definition", map[string]any{
		"file": file, "line": float64(0), "character": float64(4),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	// null result means no definition at that position
	assert.Equal(t, "No definitions found.", resultText(t, result))

	client := f.clients["go"]
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{file}, client.opened)
	assert.Equal(t, []string{lsp.MethodTextDocumentDefinition}, client.requests)
}

func TestGotoDefinitionToolFormatsLocation(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.go")

	result, err := f.server.handleGotoDefinition(context.Background(), toolRequest("lsp_goto_definition", map[string]any{
		"file": file, "line": float64(0), "character": float64(4),
	}))
	require.NoError(t, err)
	_ = result

	f.clients["go"].results[lsp.MethodTextDocumentDefinition] = `{"uri":"file:///w/b.rs","range":{"start":{"line":10,"character":0},"end":{"line":10,"character":3}}}`
	result, err = f.server.handleGotoDefinition(context.Background(), toolRequest("lsp_goto_definition", map[string]any{
		"file": file, "line": float64(0), "character": float64(4),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "file:///w/b.rs:10:0")
}

func TestPositionArgumentValidation(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.go")

	cases := []map[string]any{
		{"file": "relative/path.go", "line": float64(0), "character": float64(0)},
		{"file": file, "character": float64(0)},                               // line missing
		{"file": file, "line": float64(-1), "character": float64(0)},          // negative
		{"file": file, "line": float64(1.5), "character": float64(0)},         // fractional
		{"file": file, "line": "3", "character": float64(0)},                  // wrong type
		{"file": filepath.Join(t.TempDir(), "gone.go"), "line": float64(0), "character": float64(0)},
	}
	for i, args := range cases {
		result, err := f.server.handleHover(context.Background(), toolRequest("lsp_hover", args))
		require.NoError(t, err, "case %d", i)
		assert.True(t, result.IsError, "case %d should be rejected", i)
	}
	// Nothing was spawned for invalid arguments.
	assert.Equal(t, int32(0), atomic.LoadInt32(f.spawns))
}

func TestUnsupportedExtensionNoSpawn(t *testing.T) {
	f := newToolFixture(t)
	path := filepath.Join(t.TempDir(), "data.xyz")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	result, err := f.server.handleHover(context.Background(), toolRequest("lsp_hover", map[string]any{
		"file": path, "line": float64(0), "character": float64(0),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "xyz")
	assert.Equal(t, int32(0), atomic.LoadInt32(f.spawns))
}

func TestFindReferencesIncludeDeclarationDefault(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.go")

	result, err := f.server.handleFindReferences(context.Background(), toolRequest("lsp_find_references", map[string]any{
		"file": file, "line": float64(2), "character": float64(1),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, "No references found.", resultText(t, result))

	client := f.clients["go"]
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{lsp.MethodTextDocumentReferences}, client.requests)
}

func TestHoverToolText(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.go")
	// Seed the client by language before the call; the factory creates it
	// lazily, so issue a first call, then script the next.
	_, err := f.server.handleHover(context.Background(), toolRequest("lsp_hover", map[string]any{
		"file": file, "line": float64(0), "character": float64(0),
	}))
	require.NoError(t, err)

	f.clients["go"].results[lsp.MethodTextDocumentHover] = `{"contents":{"kind":"markdown","value":"func Foo() error"}}`
	result, err := f.server.handleHover(context.Background(), toolRequest("lsp_hover", map[string]any{
		"file": file, "line": float64(0), "character": float64(0),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "func Foo() error", resultText(t, result))
}

func TestDiagnosticsTool(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.py")

	// First call spawns the python client; script diagnostics and call again.
	_, err := f.server.handleDiagnostics(context.Background(), toolRequest("lsp_diagnostics", map[string]any{"file": file}))
	require.NoError(t, err)

	f.clients["python"].diagnostics = []lsp.Diagnostic{{
		Range:    lsp.Range{Start: lsp.Position{Line: 2, Character: 4}, End: lsp.Position{Line: 2, Character: 9}},
		Severity: lsp.DiagnosticSeverityError,
		Source:   "pyright",
		Message:  "name 'foo' is not defined",
	}}
	result, err := f.server.handleDiagnostics(context.Background(), toolRequest("lsp_diagnostics", map[string]any{"file": file}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Error [2:4] name 'foo' is not defined (pyright)")
}

func TestWorkspaceSymbolsCapabilityGate(t *testing.T) {
	f := newToolFixture(t)

	// Spawn the go client, then withdraw the capability.
	_, err := f.server.manager.ClientForLanguage(context.Background(), "go")
	require.NoError(t, err)
	client := f.clients["go"]
	client.workspaceSymbols = false

	result, err := f.server.handleWorkspaceSymbols(context.Background(), toolRequest("lsp_workspace_symbols", map[string]any{
		"query": "Foo", "language": "go",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "No symbols found.", resultText(t, result))

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.requests, "gated call must not reach the server")
}

func TestWorkspaceSymbolsTool(t *testing.T) {
	f := newToolFixture(t)

	_, err := f.server.manager.ClientForLanguage(context.Background(), "go")
	require.NoError(t, err)
	f.clients["go"].results[lsp.MethodWorkspaceSymbol] = `[{"name":"Foo","kind":12,"location":{"uri":"file:///w/a.go","range":{"start":{"line":5,"character":0},"end":{"line":9,"character":1}}}}]`

	result, err := f.server.handleWorkspaceSymbols(context.Background(), toolRequest("lsp_workspace_symbols", map[string]any{
		"query": "Foo", "language": "go",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Function Foo file:///w/a.go:5:0")
}

func TestWorkspaceSymbolsArgumentValidation(t *testing.T) {
	f := newToolFixture(t)

	result, err := f.server.handleWorkspaceSymbols(context.Background(), toolRequest("lsp_workspace_symbols", map[string]any{
		"query": "", "language": "go",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleWorkspaceSymbols(context.Background(), toolRequest("lsp_workspace_symbols", map[string]any{
		"query": "Foo",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDeadClientEvictedAndRespawned(t *testing.T) {
	f := newToolFixture(t)
	file := tempSource(t, "a.go")

	// Spawn, then script the request to fail as if the child died.
	_, err := f.server.handleHover(context.Background(), toolRequest("lsp_hover", map[string]any{
		"file": file, "line": float64(0), "character": float64(0),
	}))
	require.NoError(t, err)
	first := f.clients["go"]
	first.errs[lsp.MethodTextDocumentHover] = &lsperrors.ClientDiedError{Language: "go"}

	result, err := f.server.handleHover(context.Background(), toolRequest("lsp_hover", map[string]any{
		"file": file, "line": float64(0), "character": float64(0),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "exited")

	// The eviction makes the next call spawn a fresh client.
	result, err = f.server.handleHover(context.Background(), toolRequest("lsp_hover", map[string]any{
		"file": file, "line": float64(0), "character": float64(0),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.NotSame(t, first, f.clients["go"])
	assert.Equal(t, int32(2), atomic.LoadInt32(f.spawns))
}
