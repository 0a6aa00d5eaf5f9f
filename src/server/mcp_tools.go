package server

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"lsmcp/src/internal/common"
	lsperrors "lsmcp/src/internal/errors"
)

func (s *MCPServer) gotoDefinitionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_goto_definition",
		mcplib.WithDescription("Find where the symbol at a position is defined. "+
			"Returns file:// locations, one per line."),
		mcplib.WithString("file", mcplib.Required(),
			mcplib.Description("Absolute path to the source file")),
		mcplib.WithNumber("line", mcplib.Required(),
			mcplib.Description("Zero-indexed line of the symbol")),
		mcplib.WithNumber("character", mcplib.Required(),
			mcplib.Description("Zero-indexed character of the symbol")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGotoDefinition}
}

func (s *MCPServer) findReferencesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_find_references",
		mcplib.WithDescription("Find all references to the symbol at a position. "+
			"Returns file:// locations, one per line."),
		mcplib.WithString("file", mcplib.Required(),
			mcplib.Description("Absolute path to the source file")),
		mcplib.WithNumber("line", mcplib.Required(),
			mcplib.Description("Zero-indexed line of the symbol")),
		mcplib.WithNumber("character", mcplib.Required(),
			mcplib.Description("Zero-indexed character of the symbol")),
		mcplib.WithBoolean("includeDeclaration",
			mcplib.Description("Include the declaration itself (default true)")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleFindReferences}
}

func (s *MCPServer) hoverTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_hover",
		mcplib.WithDescription("Show hover documentation for the symbol at a position "+
			"(type signature, docs) as markdown."),
		mcplib.WithString("file", mcplib.Required(),
			mcplib.Description("Absolute path to the source file")),
		mcplib.WithNumber("line", mcplib.Required(),
			mcplib.Description("Zero-indexed line of the symbol")),
		mcplib.WithNumber("character", mcplib.Required(),
			mcplib.Description("Zero-indexed character of the symbol")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleHover}
}

func (s *MCPServer) documentSymbolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_document_symbols",
		mcplib.WithDescription("List the symbols defined in a file as an indented tree."),
		mcplib.WithString("file", mcplib.Required(),
			mcplib.Description("Absolute path to the source file")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDocumentSymbols}
}

func (s *MCPServer) diagnosticsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_diagnostics",
		mcplib.WithDescription("Report compiler and linter diagnostics for a file, "+
			"one finding per line."),
		mcplib.WithString("file", mcplib.Required(),
			mcplib.Description("Absolute path to the source file")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleDiagnostics}
}

func (s *MCPServer) workspaceSymbolsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("lsp_workspace_symbols",
		mcplib.WithDescription("Search symbols across the whole workspace by name."),
		mcplib.WithString("query", mcplib.Required(),
			mcplib.Description("Symbol name or fragment to search for")),
		mcplib.WithString("language", mcplib.Required(),
			mcplib.Description("Language id selecting which server to ask, e.g. go, python")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleWorkspaceSymbols}
}

func (s *MCPServer) handleGotoDefinition(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	file, pos, errResult := s.filePositionArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	params := lsp.DefinitionParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: uri.File(file)},
			Position:     pos,
		},
	}
	raw, errResult := s.requestForFile(ctx, file, lsp.MethodTextDocumentDefinition, params)
	if errResult != nil {
		return errResult, nil
	}
	entries, err := normalizeLocations(raw)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("definition response", err), nil
	}
	return mcplib.NewToolResultText(formatLocations("definitions", entries)), nil
}

func (s *MCPServer) handleFindReferences(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	file, pos, errResult := s.filePositionArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	includeDeclaration := true
	if v, ok := req.GetArguments()["includeDeclaration"].(bool); ok {
		includeDeclaration = v
	}
	params := lsp.ReferenceParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: uri.File(file)},
			Position:     pos,
		},
		Context: lsp.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}
	raw, errResult := s.requestForFile(ctx, file, lsp.MethodTextDocumentReferences, params)
	if errResult != nil {
		return errResult, nil
	}
	entries, err := normalizeLocations(raw)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("references response", err), nil
	}
	return mcplib.NewToolResultText(formatLocations("references", entries)), nil
}

func (s *MCPServer) handleHover(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	file, pos, errResult := s.filePositionArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	params := lsp.HoverParams{
		TextDocumentPositionParams: lsp.TextDocumentPositionParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: uri.File(file)},
			Position:     pos,
		},
	}
	raw, errResult := s.requestForFile(ctx, file, lsp.MethodTextDocumentHover, params)
	if errResult != nil {
		return errResult, nil
	}
	text, err := hoverText(raw)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("hover response", err), nil
	}
	return mcplib.NewToolResultText(text), nil
}

func (s *MCPServer) handleDocumentSymbols(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	file, errResult := s.fileArg(req)
	if errResult != nil {
		return errResult, nil
	}
	params := lsp.DocumentSymbolParams{
		TextDocument: lsp.TextDocumentIdentifier{URI: uri.File(file)},
	}
	raw, errResult := s.requestForFile(ctx, file, lsp.MethodTextDocumentDocumentSymbol, params)
	if errResult != nil {
		return errResult, nil
	}
	text, err := formatDocumentSymbols(raw)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("documentSymbol response", err), nil
	}
	return mcplib.NewToolResultText(text), nil
}

func (s *MCPServer) handleDiagnostics(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	file, errResult := s.fileArg(req)
	if errResult != nil {
		return errResult, nil
	}
	client, errResult := s.clientForFile(ctx, file)
	if errResult != nil {
		return errResult, nil
	}
	if err := client.EnsureOpen(ctx, file); err != nil {
		return s.toolError(client, err), nil
	}
	diagnostics := client.WaitDiagnostics(ctx, file)
	return mcplib.NewToolResultText(formatDiagnostics(file, diagnostics)), nil
}

func (s *MCPServer) handleWorkspaceSymbols(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	args := req.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return s.invalidArgument("query", "must be a non-empty string"), nil
	}
	language, ok := args["language"].(string)
	if !ok || language == "" {
		return s.invalidArgument("language", "must be a known language id"), nil
	}

	client, err := s.manager.ClientForLanguage(ctx, language)
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	if !client.SupportsWorkspaceSymbols() {
		// The server never sees the request when it does not announce the
		// capability.
		return mcplib.NewToolResultText("No symbols found."), nil
	}

	raw, err := client.SendRequest(ctx, lsp.MethodWorkspaceSymbol, lsp.WorkspaceSymbolParams{Query: query})
	if err != nil {
		return s.toolError(client, err), nil
	}
	text, err := formatWorkspaceSymbols(raw)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("workspace symbol response", err), nil
	}
	return mcplib.NewToolResultText(text), nil
}

// requestForFile runs the shared positional-tool pipeline: get the client,
// open the document, issue the request.
func (s *MCPServer) requestForFile(ctx context.Context, file, method string, params interface{}) ([]byte, *mcplib.CallToolResult) {
	client, errResult := s.clientForFile(ctx, file)
	if errResult != nil {
		return nil, errResult
	}
	if err := client.EnsureOpen(ctx, file); err != nil {
		return nil, s.toolError(client, err)
	}
	raw, err := client.SendRequest(ctx, method, params)
	if err != nil {
		return nil, s.toolError(client, err)
	}
	return raw, nil
}

func (s *MCPServer) clientForFile(ctx context.Context, file string) (LanguageClient, *mcplib.CallToolResult) {
	client, err := s.manager.ClientForFile(ctx, file)
	if err != nil {
		return nil, mcplib.NewToolResultError(err.Error())
	}
	return client, nil
}

// toolError maps request failures to tool error text. A dead client is
// evicted here so the next call for its language re-spawns.
func (s *MCPServer) toolError(client LanguageClient, err error) *mcplib.CallToolResult {
	if lsperrors.IsClientDied(err) {
		s.manager.Evict(client.Language(), client)
		return mcplib.NewToolResultError(err.Error() + "; it will be restarted on the next call")
	}
	if lsperrors.IsTimeout(err) {
		common.MCPLogger.Warn("%v", err)
	}
	return mcplib.NewToolResultError(err.Error())
}

func (s *MCPServer) invalidArgument(parameter, message string) *mcplib.CallToolResult {
	err := &lsperrors.InvalidArgumentError{Parameter: parameter, Message: message}
	return mcplib.NewToolResultError(err.Error())
}

// fileArg validates the file argument: absolute path to an existing file.
func (s *MCPServer) fileArg(req mcplib.CallToolRequest) (string, *mcplib.CallToolResult) {
	file, ok := req.GetArguments()["file"].(string)
	if !ok || file == "" {
		return "", s.invalidArgument("file", "must be a non-empty string")
	}
	if !filepath.IsAbs(file) {
		return "", s.invalidArgument("file", "must be an absolute path")
	}
	info, err := os.Stat(file)
	if err != nil {
		return "", s.invalidArgument("file", err.Error())
	}
	if info.IsDir() {
		return "", s.invalidArgument("file", "is a directory")
	}
	return file, nil
}

// filePositionArgs validates file, line and character. JSON numbers arrive
// as float64; positions must be non-negative integers.
func (s *MCPServer) filePositionArgs(req mcplib.CallToolRequest) (string, lsp.Position, *mcplib.CallToolResult) {
	file, errResult := s.fileArg(req)
	if errResult != nil {
		return "", lsp.Position{}, errResult
	}
	args := req.GetArguments()
	line, errResult := s.positionArg(args, "line")
	if errResult != nil {
		return "", lsp.Position{}, errResult
	}
	character, errResult := s.positionArg(args, "character")
	if errResult != nil {
		return "", lsp.Position{}, errResult
	}
	return file, lsp.Position{Line: line, Character: character}, nil
}

func (s *MCPServer) positionArg(args map[string]interface{}, key string) (uint32, *mcplib.CallToolResult) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, s.invalidArgument(key, "must be a number")
	}
	if v < 0 || v != math.Trunc(v) {
		return 0, s.invalidArgument(key, fmt.Sprintf("must be a non-negative integer, got %v", v))
	}
	return uint32(v), nil
}
