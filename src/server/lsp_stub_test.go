package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"lsmcp/src/config"
	"lsmcp/src/server/process"
	"lsmcp/src/server/protocol"
)

// stubLSP plays the language server side of the wire over in-memory pipes.
// It records everything the client sends and answers requests from canned
// results.
type stubLSP struct {
	proto *protocol.LSPJSONRPCProtocol

	out     io.Writer
	writeMu sync.Mutex

	// capabilities is the JSON object announced in the initialize result.
	capabilities string
	// canned maps request methods to raw JSON results.
	canned map[string]string
	// silent methods get no response at all, for timeout tests.
	silent map[string]bool

	mu            sync.Mutex
	requests      []stubMessage
	notifications []stubMessage
	responses     []stubResponse
	respArrived   chan struct{}
}

type stubMessage struct {
	Method string
	ID     interface{}
	Params json.RawMessage
}

type stubResponse struct {
	ID     interface{}
	Result json.RawMessage
	RPCErr *protocol.RPCError
}

func newStubLSP(capabilities string) *stubLSP {
	if capabilities == "" {
		capabilities = `{"definitionProvider":true,"workspaceSymbolProvider":true}`
	}
	return &stubLSP{
		proto:        protocol.NewLSPJSONRPCProtocol("stub"),
		capabilities: capabilities,
		canned:       make(map[string]string),
		silent:       make(map[string]bool),
		respArrived:  make(chan struct{}, 16),
	}
}

func (s *stubLSP) run(in io.Reader, stopCh <-chan struct{}) {
	s.proto.HandleResponses(in, s, stopCh)
}

func (s *stubLSP) send(msg protocol.JSONRPCMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.proto.WriteMessage(s.out, msg)
}

// HandleRequest receives client requests and replies with canned results.
func (s *stubLSP) HandleRequest(method string, id interface{}, params json.RawMessage) error {
	s.mu.Lock()
	s.requests = append(s.requests, stubMessage{Method: method, ID: id, Params: params})
	s.mu.Unlock()

	if s.silent[method] {
		return nil
	}

	var result interface{}
	switch {
	case method == "initialize":
		result = json.RawMessage(fmt.Sprintf(`{"capabilities":%s}`, s.capabilities))
	case s.canned[method] != "":
		result = json.RawMessage(s.canned[method])
	default:
		result = nil
	}
	s.send(protocol.CreateResponse(id, result, nil))
	return nil
}

// HandleNotification records client notifications.
func (s *stubLSP) HandleNotification(method string, params json.RawMessage) error {
	s.mu.Lock()
	s.notifications = append(s.notifications, stubMessage{Method: method, Params: params})
	s.mu.Unlock()
	return nil
}

// HandleResponse records client answers to stub-initiated requests.
func (s *stubLSP) HandleResponse(id interface{}, result json.RawMessage, rpcErr *protocol.RPCError) error {
	s.mu.Lock()
	s.responses = append(s.responses, stubResponse{ID: id, Result: result, RPCErr: rpcErr})
	s.mu.Unlock()
	s.respArrived <- struct{}{}
	return nil
}

func (s *stubLSP) requestIDs(method string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []interface{}
	for _, r := range s.requests {
		if method == "" || r.Method == method {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// notificationCount reports how many notifications with the given method have
// been recorded. Notifications are dispatched asynchronously after the
// client's write returns, so the count waits for a first match and then for
// the count to settle before reporting it.
func (s *stubLSP) notificationCount(method string) int {
	count := func() int {
		s.mu.Lock()
		defer s.mu.Unlock()
		n := 0
		for _, m := range s.notifications {
			if m.Method == method {
				n++
			}
		}
		return n
	}

	deadline := time.Now().Add(2 * time.Second)
	n := count()
	settledAt := time.Now()
	for time.Now().Before(deadline) {
		if next := count(); next != n {
			n = next
			settledAt = time.Now()
		} else if n > 0 && time.Since(settledAt) >= 50*time.Millisecond {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return n
}

func (s *stubLSP) pushDiagnostics(fileURI string, diagnosticsJSON string) {
	params := json.RawMessage(fmt.Sprintf(`{"uri":%q,"diagnostics":%s}`, fileURI, diagnosticsJSON))
	s.send(protocol.CreateNotification("textDocument/publishDiagnostics", params))
}

// fakeProcessManager wires a StdioClient to a stubLSP through io.Pipe pairs
// instead of a real child process.
type fakeProcessManager struct {
	stub *stubLSP

	stdinWriter  *io.PipeWriter
	stdoutWriter *io.PipeWriter
	stderrWriter *io.PipeWriter

	stopOnce sync.Once
	exitOnce sync.Once
	info     *process.ProcessInfo
}

func newFakeProcessManager(stub *stubLSP) *fakeProcessManager {
	return &fakeProcessManager{stub: stub}
}

func (f *fakeProcessManager) StartProcess(cmd *config.ResolvedCommand) (*process.ProcessInfo, error) {
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	f.stdinWriter = stdinWriter
	f.stdoutWriter = stdoutWriter
	f.stderrWriter = stderrWriter

	f.info = &process.ProcessInfo{
		Stdin:    stdinWriter,
		Stdout:   stdoutReader,
		Stderr:   stderrReader,
		StopCh:   make(chan struct{}),
		Exited:   make(chan struct{}),
		Language: cmd.LanguageID,
	}

	f.stub.out = stdoutWriter
	go f.stub.run(stdinReader, f.info.StopCh)
	return f.info, nil
}

func (f *fakeProcessManager) StopProcess(info *process.ProcessInfo, sender process.ShutdownSender) error {
	if sender != nil {
		sender.SendShutdownRequest(context.Background())
		sender.SendExitNotification(context.Background())
	}
	f.terminate()
	return nil
}

// terminate stands in for process death: both stdio streams reach EOF.
func (f *fakeProcessManager) terminate() {
	f.stopOnce.Do(func() {
		close(f.info.StopCh)
	})
	f.exitOnce.Do(func() {
		f.stdoutWriter.Close()
		f.stdinWriter.Close()
		f.stderrWriter.Close()
		close(f.info.Exited)
	})
}

func (f *fakeProcessManager) MonitorProcess(info *process.ProcessInfo, onExit func(error)) {
	<-info.Exited
	if onExit != nil {
		onExit(nil)
	}
}

func (f *fakeProcessManager) CleanupProcess(info *process.ProcessInfo) {}
