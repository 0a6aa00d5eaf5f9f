package server

import (
	"encoding/json"
	"fmt"
	"strings"

	lsp "go.lsp.dev/protocol"
)

// The LSP result unions are decoded by hand from raw JSON: definition
// responses are Location | Location[] | LocationLink[] | null, hover contents
// are string | MarkedString | MarkupContent | array, and symbol responses
// switch between hierarchical and flat shapes. Everything renders as
// plain text lines a model can read without structural decoding.

type locationEntry struct {
	URI   string
	Range lsp.Range
}

// normalizeLocations flattens any definition or references response shape
// into (uri, range) pairs.
func normalizeLocations(raw json.RawMessage) ([]locationEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single lsp.Location
	if err := json.Unmarshal(raw, &single); err == nil && single.URI != "" {
		return []locationEntry{{URI: string(single.URI), Range: single.Range}}, nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unexpected location response shape: %s", truncateJSON(raw))
	}

	entries := make([]locationEntry, 0, len(list))
	for _, item := range list {
		var loc lsp.Location
		if err := json.Unmarshal(item, &loc); err == nil && loc.URI != "" {
			entries = append(entries, locationEntry{URI: string(loc.URI), Range: loc.Range})
			continue
		}
		var link lsp.LocationLink
		if err := json.Unmarshal(item, &link); err == nil && link.TargetURI != "" {
			r := link.TargetSelectionRange
			if r == (lsp.Range{}) {
				r = link.TargetRange
			}
			entries = append(entries, locationEntry{URI: string(link.TargetURI), Range: r})
			continue
		}
		return nil, fmt.Errorf("unexpected location element: %s", truncateJSON(item))
	}
	return entries, nil
}

// formatLocations renders location entries with a leading summary line.
func formatLocations(noun string, entries []locationEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No %s found.", noun)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s:\n", len(entries), pluralize(noun, len(entries)))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s:%d:%d\n", e.URI, e.Range.Start.Line, e.Range.Start.Character)
	}
	return strings.TrimRight(b.String(), "\n")
}

func pluralize(noun string, n int) string {
	if n == 1 && strings.HasSuffix(noun, "s") {
		return strings.TrimSuffix(noun, "s")
	}
	return noun
}

// hoverText extracts the markdown text from a hover response, whatever of
// the three historical content encodings the server chose.
func hoverText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "No hover information.", nil
	}

	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(raw, &hover); err != nil {
		return "", fmt.Errorf("unexpected hover response shape: %s", truncateJSON(raw))
	}
	text := markedText(hover.Contents)
	if strings.TrimSpace(text) == "" {
		return "No hover information.", nil
	}
	return text, nil
}

// markedText decodes string | MarkedString | MarkupContent | array of them.
func markedText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var marked struct {
		Kind     string `json:"kind"`
		Language string `json:"language"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &marked); err == nil && marked.Value != "" {
		if marked.Language != "" {
			return fmt.Sprintf("```%s\n%s\n```", marked.Language, marked.Value)
		}
		return marked.Value
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if part := markedText(item); part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	return ""
}

// formatDocumentSymbols renders a documentSymbol response. Servers return
// either hierarchical DocumentSymbol[] or flat SymbolInformation[]; the
// presence of selectionRange tells them apart.
func formatDocumentSymbols(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "No symbols found.", nil
	}

	var probe []struct {
		SelectionRange *lsp.Range `json:"selectionRange"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("unexpected documentSymbol response shape: %s", truncateJSON(raw))
	}
	if len(probe) == 0 {
		return "No symbols found.", nil
	}

	var b strings.Builder
	if probe[0].SelectionRange != nil {
		var symbols []lsp.DocumentSymbol
		if err := json.Unmarshal(raw, &symbols); err != nil {
			return "", fmt.Errorf("decode document symbols: %w", err)
		}
		fmt.Fprintf(&b, "Found %d symbols:\n", countSymbols(symbols))
		writeSymbolTree(&b, symbols, 0)
	} else {
		var symbols []lsp.SymbolInformation
		if err := json.Unmarshal(raw, &symbols); err != nil {
			return "", fmt.Errorf("decode symbol information: %w", err)
		}
		fmt.Fprintf(&b, "Found %d symbols:\n", len(symbols))
		for _, s := range symbols {
			r := s.Location.Range
			fmt.Fprintf(&b, "%s %s [%d:%d-%d:%d]\n", symbolKindName(s.Kind), s.Name,
				r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func countSymbols(symbols []lsp.DocumentSymbol) int {
	n := len(symbols)
	for _, s := range symbols {
		n += countSymbols(s.Children)
	}
	return n
}

func writeSymbolTree(b *strings.Builder, symbols []lsp.DocumentSymbol, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, s := range symbols {
		fmt.Fprintf(b, "%s%s %s [%d:%d-%d:%d]\n", indent, symbolKindName(s.Kind), s.Name,
			s.Range.Start.Line, s.Range.Start.Character, s.Range.End.Line, s.Range.End.Character)
		writeSymbolTree(b, s.Children, depth+1)
	}
}

// formatDiagnostics renders the latched diagnostics for one file.
func formatDiagnostics(path string, diagnostics []lsp.Diagnostic) string {
	if len(diagnostics) == 0 {
		return fmt.Sprintf("No diagnostics for %s.", path)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s:\n", len(diagnostics), pluralize("diagnostics", len(diagnostics)))
	for _, d := range diagnostics {
		fmt.Fprintf(&b, "%s [%d:%d] %s", severityName(d.Severity),
			d.Range.Start.Line, d.Range.Start.Character, d.Message)
		if d.Source != "" {
			fmt.Fprintf(&b, " (%s)", d.Source)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatWorkspaceSymbols renders a workspace/symbol response.
func formatWorkspaceSymbols(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "No symbols found.", nil
	}
	var symbols []lsp.SymbolInformation
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return "", fmt.Errorf("unexpected workspace symbol response shape: %s", truncateJSON(raw))
	}
	if len(symbols) == 0 {
		return "No symbols found.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s:\n", len(symbols), pluralize("symbols", len(symbols)))
	for _, s := range symbols {
		fmt.Fprintf(&b, "%s %s %s:%d:%d\n", symbolKindName(s.Kind), s.Name,
			s.Location.URI, s.Location.Range.Start.Line, s.Location.Range.Start.Character)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

var symbolKindNames = map[lsp.SymbolKind]string{
	lsp.SymbolKindFile:          "File",
	lsp.SymbolKindModule:        "Module",
	lsp.SymbolKindNamespace:     "Namespace",
	lsp.SymbolKindPackage:       "Package",
	lsp.SymbolKindClass:         "Class",
	lsp.SymbolKindMethod:        "Method",
	lsp.SymbolKindProperty:      "Property",
	lsp.SymbolKindField:         "Field",
	lsp.SymbolKindConstructor:   "Constructor",
	lsp.SymbolKindEnum:          "Enum",
	lsp.SymbolKindInterface:     "Interface",
	lsp.SymbolKindFunction:      "Function",
	lsp.SymbolKindVariable:      "Variable",
	lsp.SymbolKindConstant:      "Constant",
	lsp.SymbolKindString:        "String",
	lsp.SymbolKindNumber:        "Number",
	lsp.SymbolKindBoolean:       "Boolean",
	lsp.SymbolKindArray:         "Array",
	lsp.SymbolKindObject:        "Object",
	lsp.SymbolKindKey:           "Key",
	lsp.SymbolKindNull:          "Null",
	lsp.SymbolKindEnumMember:    "EnumMember",
	lsp.SymbolKindStruct:        "Struct",
	lsp.SymbolKindEvent:         "Event",
	lsp.SymbolKindOperator:      "Operator",
	lsp.SymbolKindTypeParameter: "TypeParameter",
}

func symbolKindName(kind lsp.SymbolKind) string {
	if name, ok := symbolKindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("Symbol(%d)", int(kind))
}

func severityName(severity lsp.DiagnosticSeverity) string {
	switch severity {
	case lsp.DiagnosticSeverityError:
		return "Error"
	case lsp.DiagnosticSeverityWarning:
		return "Warning"
	case lsp.DiagnosticSeverityInformation:
		return "Information"
	case lsp.DiagnosticSeverityHint:
		return "Hint"
	default:
		// Servers may omit severity; the convention is to treat it as an
		// error-level finding.
		return "Error"
	}
}

func truncateJSON(raw json.RawMessage) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
