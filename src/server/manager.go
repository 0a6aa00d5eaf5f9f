package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lsp "go.lsp.dev/protocol"
	"golang.org/x/sync/errgroup"

	"lsmcp/src/config"
	"lsmcp/src/internal/common"
	"lsmcp/src/internal/constants"
	"lsmcp/src/server/process"
)

// LanguageClient is the surface the tool dispatcher needs from a running
// language server connection.
type LanguageClient interface {
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	EnsureOpen(ctx context.Context, path string) error
	WaitDiagnostics(ctx context.Context, path string) []lsp.Diagnostic
	SupportsWorkspaceSymbols() bool
	Alive() bool
	Language() string
	Stop(ctx context.Context) error
}

// Resolver is the slice of the configuration loader the manager needs.
type Resolver interface {
	LanguageForFile(path string) (string, error)
	ResolveLanguage(lang string) (*config.ResolvedCommand, error)
}

// Manager owns at most one language server client per language, spawned
// lazily on first use.
type Manager struct {
	loader        Resolver
	workspaceRoot string

	// newClient is the spawn seam; tests replace it with a fake factory.
	newClient func(ctx context.Context, resolved *config.ResolvedCommand) (LanguageClient, error)

	mu         sync.Mutex
	clients    map[string]LanguageClient
	spawnLocks map[string]*sync.Mutex
}

// NewManager builds a manager over the resolver for one workspace root.
func NewManager(loader Resolver, workspaceRoot string) *Manager {
	m := &Manager{
		loader:        loader,
		workspaceRoot: workspaceRoot,
		clients:       make(map[string]LanguageClient),
		spawnLocks:    make(map[string]*sync.Mutex),
	}
	m.newClient = m.startStdioClient
	return m
}

func (m *Manager) startStdioClient(ctx context.Context, resolved *config.ResolvedCommand) (LanguageClient, error) {
	client := NewStdioClient(resolved, process.NewLSPProcessManager())
	client.LanguageIDFor = func(path string) string {
		if lang, err := m.loader.LanguageForFile(path); err == nil {
			return lang
		}
		return resolved.LanguageID
	}
	if err := client.Start(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// WorkspaceRoot returns the root the manager spawns servers in.
func (m *Manager) WorkspaceRoot() string { return m.workspaceRoot }

// ClientForFile returns the client serving the file's language, spawning it
// on first use.
func (m *Manager) ClientForFile(ctx context.Context, path string) (LanguageClient, error) {
	lang, err := m.loader.LanguageForFile(path)
	if err != nil {
		return nil, err
	}
	return m.ClientForLanguage(ctx, lang)
}

// ClientForLanguage returns the cached client for a language or spawns one.
// A cached client is returned even when its process has died; the request
// against it fails and the caller evicts, so the call after that re-spawns.
// Concurrent first calls for the same language spawn exactly one child.
func (m *Manager) ClientForLanguage(ctx context.Context, lang string) (LanguageClient, error) {
	m.mu.Lock()
	if client, ok := m.clients[lang]; ok {
		m.mu.Unlock()
		return client, nil
	}
	lock, ok := m.spawnLocks[lang]
	if !ok {
		lock = &sync.Mutex{}
		m.spawnLocks[lang] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if client, ok := m.clients[lang]; ok {
		m.mu.Unlock()
		return client, nil
	}
	m.mu.Unlock()

	resolved, err := m.loader.ResolveLanguage(lang)
	if err != nil {
		return nil, err
	}
	resolved.WorkspaceRoot = m.workspaceRoot

	client, err := m.newClient(ctx, resolved)
	if err != nil {
		// Spawn and handshake failures are never cached; the next call
		// retries from scratch.
		return nil, err
	}

	m.mu.Lock()
	m.clients[lang] = client
	m.mu.Unlock()
	return client, nil
}

// Evict drops a client from the cache if it is still the cached one. The
// dispatcher calls it after observing a dead client.
func (m *Manager) Evict(lang string, client LanguageClient) {
	m.mu.Lock()
	if m.clients[lang] == client {
		delete(m.clients, lang)
		common.LSPLogger.Info("Evicted dead %s language server", lang)
	}
	m.mu.Unlock()
}

// Shutdown stops all clients in parallel, bounding each stop to the process
// shutdown timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	clients := make([]LanguageClient, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clients = make(map[string]LanguageClient)
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, client := range clients {
		client := client
		g.Go(func() error {
			stopCtx, cancel := context.WithTimeout(ctx, constants.ProcessShutdownTimeout+time.Second)
			defer cancel()
			if err := client.Stop(stopCtx); err != nil {
				common.LSPLogger.Warn("Stopping %s language server: %v", client.Language(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
