// Package process manages language server child process lifecycles.
package process

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"lsmcp/src/config"
	"lsmcp/src/internal/common"
	"lsmcp/src/internal/constants"
)

// ProcessInfo holds the handles of one running language server.
type ProcessInfo struct {
	Cmd      *exec.Cmd
	Stdin    io.WriteCloser
	Stdout   io.ReadCloser
	Stderr   io.ReadCloser
	StopCh   chan struct{}
	Exited   chan struct{}
	Language string
}

// ShutdownSender sends the LSP shutdown handshake before the process is
// reaped. Implemented by the stdio client.
type ShutdownSender interface {
	SendShutdownRequest(ctx context.Context) error
	SendExitNotification(ctx context.Context) error
}

// ProcessManager abstracts child process handling so tests can stand in a
// fake with in-memory pipes.
type ProcessManager interface {
	StartProcess(cmd *config.ResolvedCommand) (*ProcessInfo, error)
	StopProcess(info *ProcessInfo, sender ShutdownSender) error
	MonitorProcess(info *ProcessInfo, onExit func(error))
	CleanupProcess(info *ProcessInfo)
}

// LSPProcessManager is the real implementation backed by os/exec.
type LSPProcessManager struct{}

func NewLSPProcessManager() *LSPProcessManager {
	return &LSPProcessManager{}
}

// StartProcess spawns the resolved command with the workspace root as its
// working directory and wires up all three stdio pipes.
func (pm *LSPProcessManager) StartProcess(resolved *config.ResolvedCommand) (*ProcessInfo, error) {
	cmd := exec.Command(resolved.Path, resolved.Args...)
	if resolved.WorkspaceRoot != "" {
		cmd.Dir = resolved.WorkspaceRoot
	}

	info := &ProcessInfo{
		Cmd:      cmd,
		StopCh:   make(chan struct{}),
		Exited:   make(chan struct{}),
		Language: resolved.LanguageID,
	}

	var err error
	info.Stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	info.Stdout, err = cmd.StdoutPipe()
	if err != nil {
		info.Stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	info.Stderr, err = cmd.StderrPipe()
	if err != nil {
		info.Stdin.Close()
		info.Stdout.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		pm.CleanupProcess(info)
		return nil, err
	}

	common.LSPLogger.Info("Started %s language server: pid %d", resolved.LanguageID, cmd.Process.Pid)
	return info, nil
}

// StopProcess runs the graceful shutdown sequence: LSP shutdown request,
// exit notification, then a bounded wait before force killing. The monitor
// goroutine owns Cmd.Wait, so completion is observed through Exited.
func (pm *LSPProcessManager) StopProcess(info *ProcessInfo, sender ShutdownSender) error {
	if info == nil {
		return nil
	}

	if sender != nil {
		pm.sendShutdown(sender)
	}

	select {
	case <-info.StopCh:
	default:
		close(info.StopCh)
	}

	if info.Cmd != nil && info.Cmd.Process != nil {
		select {
		case <-info.Exited:
		case <-time.After(constants.ProcessShutdownTimeout):
			common.LSPLogger.Warn("%s language server did not exit within %v, killing",
				info.Language, constants.ProcessShutdownTimeout)
			if err := info.Cmd.Process.Kill(); err != nil {
				common.LSPLogger.Error("Failed to kill %s language server: %v", info.Language, err)
			}
			<-info.Exited
		}
	}

	pm.CleanupProcess(info)
	return nil
}

// MonitorProcess blocks until the child exits, then closes Exited and StopCh
// and reports the exit error. Callers run it in its own goroutine.
func (pm *LSPProcessManager) MonitorProcess(info *ProcessInfo, onExit func(error)) {
	if info == nil || info.Cmd == nil {
		if onExit != nil {
			onExit(fmt.Errorf("invalid process info"))
		}
		return
	}

	err := info.Cmd.Wait()
	close(info.Exited)

	intentional := false
	select {
	case <-info.StopCh:
		intentional = true
	default:
		close(info.StopCh)
	}

	if err != nil && !intentional {
		common.LSPLogger.Error("%s language server exited unexpectedly: %v", info.Language, err)
	} else {
		common.LSPLogger.Info("%s language server exited", info.Language)
	}

	if onExit != nil {
		onExit(err)
	}
}

// CleanupProcess closes any remaining pipes.
func (pm *LSPProcessManager) CleanupProcess(info *ProcessInfo) {
	if info == nil {
		return
	}
	if info.Stdin != nil {
		info.Stdin.Close()
		info.Stdin = nil
	}
	if info.Stdout != nil {
		info.Stdout.Close()
		info.Stdout = nil
	}
	if info.Stderr != nil {
		info.Stderr.Close()
		info.Stderr = nil
	}
}

func (pm *LSPProcessManager) sendShutdown(sender ShutdownSender) {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ShutdownRequestTimeout)
	defer cancelShutdown()
	if err := sender.SendShutdownRequest(shutdownCtx); err != nil {
		common.LSPLogger.Debug("Shutdown request failed: %v", err)
	}

	exitCtx, cancelExit := context.WithTimeout(context.Background(), constants.ExitNotificationTimeout)
	defer cancelExit()
	if err := sender.SendExitNotification(exitCtx); err != nil {
		common.LSPLogger.Debug("Exit notification failed: %v", err)
	}
}
