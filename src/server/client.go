package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"lsmcp/src/config"
	"lsmcp/src/internal/common"
	"lsmcp/src/internal/constants"
	lsperrors "lsmcp/src/internal/errors"
	"lsmcp/src/server/process"
	"lsmcp/src/server/protocol"
	"lsmcp/src/utils"
)

type pendingResult struct {
	result json.RawMessage
	rpcErr *protocol.RPCError
}

type pendingRequest struct {
	method string
	respCh chan pendingResult
}

// openState is one didOpen attempt, in flight or finished. done is closed
// when the attempt completes; err carries the outcome to waiters.
type openState struct {
	done chan struct{}
	err  error
}

// StdioClient speaks LSP to one language server child over stdin/stdout.
// One client serves one language for the lifetime of the process unless the
// child dies.
type StdioClient struct {
	language string
	resolved *config.ResolvedCommand
	procMgr  process.ProcessManager
	proto    *protocol.LSPJSONRPCProtocol

	// LanguageIDFor maps a file path to the languageId used in didOpen.
	// Defaults to the resolved language when unset.
	LanguageIDFor func(path string) string

	info    *process.ProcessInfo
	writeMu sync.Mutex

	mu           sync.Mutex
	nextID       int64
	pending      map[string]*pendingRequest
	openDocs     map[string]*openState
	diagnostics  map[string][]lsp.Diagnostic
	diagReceived map[string]chan struct{}

	rawCapabilities  json.RawMessage
	workspaceSymbols bool

	dead     chan struct{}
	deadOnce sync.Once
}

// NewStdioClient builds an unstarted client for a resolved server command.
func NewStdioClient(resolved *config.ResolvedCommand, procMgr process.ProcessManager) *StdioClient {
	return &StdioClient{
		language:     resolved.LanguageID,
		resolved:     resolved,
		procMgr:      procMgr,
		proto:        protocol.NewLSPJSONRPCProtocol(resolved.LanguageID),
		nextID:       1,
		pending:      make(map[string]*pendingRequest),
		openDocs:     make(map[string]*openState),
		diagnostics:  make(map[string][]lsp.Diagnostic),
		diagReceived: make(map[string]chan struct{}),
		dead:         make(chan struct{}),
	}
}

// Start spawns the child and completes the initialize handshake. On
// handshake failure the child is stopped and the client must be discarded.
func (c *StdioClient) Start(ctx context.Context) error {
	info, err := c.procMgr.StartProcess(c.resolved)
	if err != nil {
		return &lsperrors.SpawnError{Language: c.language, Command: c.resolved.Path, Cause: err}
	}
	c.info = info

	go c.procMgr.MonitorProcess(info, func(error) { c.markDead() })
	go c.drainStderr()
	go c.readLoop()

	if err := c.initialize(ctx); err != nil {
		c.procMgr.StopProcess(info, nil)
		return &lsperrors.HandshakeError{Language: c.language, Cause: err}
	}
	return nil
}

func (c *StdioClient) initialize(ctx context.Context) error {
	params := lsp.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &lsp.ClientInfo{
			Name:    "lsmcp",
			Version: common.Version,
		},
		RootURI:               uri.File(c.resolved.WorkspaceRoot),
		Capabilities:          lsp.ClientCapabilities{},
		InitializationOptions: c.initializationOptions(),
	}

	result, err := c.SendRequest(ctx, lsp.MethodInitialize, params)
	if err != nil {
		return err
	}

	var initResult struct {
		Capabilities json.RawMessage `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &initResult); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}

	var caps struct {
		WorkspaceSymbolProvider interface{} `json:"workspaceSymbolProvider"`
	}
	if len(initResult.Capabilities) > 0 {
		if err := json.Unmarshal(initResult.Capabilities, &caps); err != nil {
			return fmt.Errorf("decode server capabilities: %w", err)
		}
	}

	c.mu.Lock()
	c.rawCapabilities = initResult.Capabilities
	c.workspaceSymbols = capabilityEnabled(caps.WorkspaceSymbolProvider)
	c.mu.Unlock()

	return c.SendNotification(lsp.MethodInitialized, struct{}{})
}

func (c *StdioClient) initializationOptions() interface{} {
	if c.resolved.Package == nil || c.resolved.Package.InitializationOptions == nil {
		return nil
	}
	return c.resolved.Package.InitializationOptions
}

// capabilityEnabled interprets the boolean-or-object capability encoding.
func capabilityEnabled(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}

func (c *StdioClient) readLoop() {
	err := c.proto.HandleResponses(c.info.Stdout, c, c.info.StopCh)
	if err != nil {
		common.LSPLogger.Error("Reader for %s stopped: %v", c.language, err)
	}
	c.markDead()
}

func (c *StdioClient) drainStderr() {
	scanner := bufio.NewScanner(c.info.Stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), constants.LSPResponseBufferSize)
	for scanner.Scan() {
		common.LSPLogger.Debug("[%s stderr] %s", c.language, scanner.Text())
	}
}

// Alive reports whether the child is still believed to be running.
func (c *StdioClient) Alive() bool {
	select {
	case <-c.dead:
		return false
	default:
		return true
	}
}

// Language returns the language identifier this client serves.
func (c *StdioClient) Language() string { return c.language }

// SupportsWorkspaceSymbols reports the workspaceSymbolProvider capability
// announced during initialize.
func (c *StdioClient) SupportsWorkspaceSymbols() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspaceSymbols
}

// markDead fails every pending request and wakes diagnostics waiters. Safe
// to call from multiple goroutines.
func (c *StdioClient) markDead() {
	c.deadOnce.Do(func() {
		close(c.dead)
		c.mu.Lock()
		orphaned := c.pending
		c.pending = make(map[string]*pendingRequest)
		c.mu.Unlock()
		for _, p := range orphaned {
			p.respCh <- pendingResult{rpcErr: protocol.NewRPCError(
				protocol.InternalError, "language server exited", nil)}
		}
		if len(orphaned) > 0 {
			common.LSPLogger.Warn("Failed %d in-flight requests for %s", len(orphaned), c.language)
		}
	})
}

// SendRequest issues one request and blocks for its response. The default
// deadline is 30 seconds; a sooner context deadline wins. On timeout the
// pending slot is abandoned and the client stays usable.
func (c *StdioClient) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !c.Alive() {
		return nil, &lsperrors.ClientDiedError{Language: c.language}
	}

	timeout := constants.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	p := &pendingRequest{method: method, respCh: make(chan pendingResult, 1)}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	key := strconv.FormatInt(id, 10)
	c.pending[key] = p
	c.mu.Unlock()

	if err := c.write(protocol.CreateMessage(method, id, params)); err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		if !c.Alive() {
			return nil, &lsperrors.ClientDiedError{Language: c.language}
		}
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.respCh:
		return c.finishRequest(method, res)
	case <-timer.C:
		return c.abandonRequest(method, key, p, timeout)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			// A context deadline expiry is the same timeout, just observed
			// through the other channel.
			return c.abandonRequest(method, key, p, timeout)
		}
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// abandonRequest gives up on a pending slot after a timeout. If the response
// already claimed the slot it is drained instead; the slot completes exactly
// once either way.
func (c *StdioClient) abandonRequest(method, key string, p *pendingRequest, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	_, still := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if !still {
		res := <-p.respCh
		return c.finishRequest(method, res)
	}
	return nil, &lsperrors.TimeoutError{Method: method, Timeout: timeout}
}

func (c *StdioClient) finishRequest(method string, res pendingResult) (json.RawMessage, error) {
	if res.rpcErr != nil {
		if !c.Alive() {
			return nil, &lsperrors.ClientDiedError{Language: c.language}
		}
		return nil, fmt.Errorf("%s: %w", method, res.rpcErr)
	}
	return res.result, nil
}

// SendNotification issues a fire-and-forget notification.
func (c *StdioClient) SendNotification(method string, params interface{}) error {
	if !c.Alive() {
		return &lsperrors.ClientDiedError{Language: c.language}
	}
	return c.write(protocol.CreateNotification(method, params))
}

// write serializes a frame under the write lock so frames never interleave.
func (c *StdioClient) write(msg protocol.JSONRPCMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.proto.WriteMessage(c.info.Stdin, msg)
}

// EnsureOpen sends textDocument/didOpen for a file at most once per client
// lifetime. The slot is claimed under the lock before the send, so concurrent
// callers for the same file wait on the first attempt instead of racing it.
// A failed attempt clears the slot so a later call retries. The document is
// never closed; servers keep pushing diagnostics for open documents.
func (c *StdioClient) EnsureOpen(ctx context.Context, path string) error {
	c.mu.Lock()
	if st, ok := c.openDocs[path]; ok {
		c.mu.Unlock()
		select {
		case <-st.done:
			return st.err
		case <-ctx.Done():
			return ctx.Err()
		case <-c.dead:
			return &lsperrors.ClientDiedError{Language: c.language}
		}
	}
	st := &openState{done: make(chan struct{})}
	c.openDocs[path] = st
	c.mu.Unlock()

	st.err = c.sendDidOpen(path)
	if st.err != nil {
		c.mu.Lock()
		delete(c.openDocs, path)
		c.mu.Unlock()
	}
	close(st.done)
	return st.err
}

func (c *StdioClient) sendDidOpen(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return &lsperrors.InvalidArgumentError{Parameter: "file", Message: err.Error()}
	}

	languageID := c.language
	if c.LanguageIDFor != nil {
		languageID = c.LanguageIDFor(path)
	}

	params := lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        uri.File(path),
			LanguageID: lsp.LanguageIdentifier(languageID),
			Version:    1,
			Text:       string(content),
		},
	}
	return c.SendNotification(lsp.MethodTextDocumentDidOpen, params)
}

// WaitDiagnostics returns the latest published diagnostics for a file. If
// nothing has been published yet it waits briefly for the first
// publishDiagnostics notification; an empty result after the wait is not an
// error.
func (c *StdioClient) WaitDiagnostics(ctx context.Context, path string) []lsp.Diagnostic {
	c.mu.Lock()
	latch, seen := c.diagReceived[path]
	if !seen {
		latch = make(chan struct{})
		c.diagReceived[path] = latch
	}
	c.mu.Unlock()

	if !seen || !latchClosed(latch) {
		select {
		case <-latch:
		case <-time.After(constants.DiagnosticsWaitTimeout):
		case <-ctx.Done():
		case <-c.dead:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]lsp.Diagnostic(nil), c.diagnostics[path]...)
}

func latchClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Stop runs the LSP shutdown sequence and reaps the child.
func (c *StdioClient) Stop(ctx context.Context) error {
	if c.info == nil {
		return nil
	}
	err := c.procMgr.StopProcess(c.info, c)
	c.markDead()
	return err
}

// SendShutdownRequest implements process.ShutdownSender.
func (c *StdioClient) SendShutdownRequest(ctx context.Context) error {
	_, err := c.SendRequest(ctx, lsp.MethodShutdown, nil)
	return err
}

// SendExitNotification implements process.ShutdownSender.
func (c *StdioClient) SendExitNotification(ctx context.Context) error {
	return c.SendNotification(lsp.MethodExit, nil)
}

// HandleResponse completes the pending slot for an id. Each slot completes
// exactly once: the slot is removed from the map before delivery and the
// channel is buffered.
func (c *StdioClient) HandleResponse(id interface{}, result json.RawMessage, rpcErr *protocol.RPCError) error {
	key := idKey(id)

	c.mu.Lock()
	p, ok := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()

	if !ok {
		common.LSPLogger.Debug("Response for unknown or expired id %s from %s", key, c.language)
		return nil
	}
	p.respCh <- pendingResult{result: result, rpcErr: rpcErr}
	return nil
}

// HandleNotification latches publishDiagnostics and logs everything else.
func (c *StdioClient) HandleNotification(method string, params json.RawMessage) error {
	switch method {
	case lsp.MethodTextDocumentPublishDiagnostics:
		var p lsp.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return fmt.Errorf("decode publishDiagnostics: %w", err)
		}
		path := utils.URIToFilePath(string(p.URI))

		c.mu.Lock()
		// Last writer wins; servers republish the full set every time.
		c.diagnostics[path] = p.Diagnostics
		latch, ok := c.diagReceived[path]
		if !ok {
			latch = make(chan struct{})
			c.diagReceived[path] = latch
		}
		if !latchClosed(latch) {
			close(latch)
		}
		c.mu.Unlock()
	case lsp.MethodWindowLogMessage, lsp.MethodWindowShowMessage, lsp.MethodProgress:
		common.LSPLogger.Debug("%s notification from %s", method, c.language)
	default:
		common.LSPLogger.Debug("Ignoring %s notification from %s", method, c.language)
	}
	return nil
}

// HandleRequest answers server-to-client requests. Only
// workspace/configuration gets a real answer; everything else is declined
// with MethodNotFound, which well-behaved servers tolerate.
func (c *StdioClient) HandleRequest(method string, id interface{}, params json.RawMessage) error {
	switch method {
	case lsp.MethodWorkspaceConfiguration:
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return c.write(protocol.CreateResponse(id, nil,
				protocol.NewRPCError(protocol.InvalidParams, err.Error(), nil)))
		}
		items := make([]map[string]interface{}, len(p.Items))
		for i := range items {
			items[i] = map[string]interface{}{}
		}
		return c.write(protocol.CreateResponse(id, items, nil))
	default:
		return c.write(protocol.CreateResponse(id, nil, protocol.NewMethodNotFoundError(method)))
	}
}

func idKey(id interface{}) string {
	switch v := id.(type) {
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
