package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/retrocourt/retrocourt/internal/model"
	"github.com/retrocourt/retrocourt/internal/runner"
)

// Runner drives an external agent process over MCP: it hosts a per-call
// tool server on a loopback port and execs Command with RETROCOURT_MCP_URL
// and RETROCOURT_STAGE set, so the process can connect back as an MCP
// client and, eventually, call submit_output.
type Runner struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// New builds an MCP-backed Runner invoking the given command for every
// stage. The command is expected to read RETROCOURT_MCP_URL and
// RETROCOURT_STAGE from its environment and act as an MCP client.
func New(command string, args []string, logger *slog.Logger) *Runner {
	return &Runner{Command: command, Args: args, Logger: logger}
}

func (r *Runner) Run(ctx context.Context, stage model.Stage, input runner.Input, tools runner.Tools) (runner.Output, error) {
	srv := NewServer(stage, tools, r.Logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return runner.Output{}, fmt.Errorf("runner/mcp: listen: %w", err)
	}
	addr := ln.Addr().String()

	httpSrv := &http.Server{Handler: mcpserver.NewStreamableHTTPServer(srv.MCPServer())}
	go func() { _ = httpSrv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return runner.Output{}, fmt.Errorf("runner/mcp: marshal input: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Env = append(cmd.Environ(),
		"RETROCOURT_MCP_URL=http://"+addr+"/",
		"RETROCOURT_STAGE="+string(stage),
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return runner.Output{}, fmt.Errorf("runner/mcp: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return runner.Output{}, fmt.Errorf("runner/mcp: start %s: %w", r.Command, err)
	}
	if _, err := stdin.Write(inputJSON); err == nil {
		_ = stdin.Close()
	}

	procDone := make(chan error, 1)
	go func() { procDone <- cmd.Wait() }()

	resultCh := make(chan json.RawMessage, 1)
	resultErrCh := make(chan error, 1)
	go func() {
		raw, err := srv.Await(ctx)
		if err != nil {
			resultErrCh <- err
			return
		}
		resultCh <- raw
	}()

	select {
	case raw := <-resultCh:
		return runner.Output{Raw: raw}, nil
	case err := <-resultErrCh:
		return runner.Output{}, err
	case procErr := <-procDone:
		if procErr != nil {
			return runner.Output{}, fmt.Errorf("runner/mcp: agent process for stage %s exited: %w", stage, procErr)
		}
		// The process exited cleanly but may have called submit_output
		// just before exiting; give Await one last chance to have closed.
		select {
		case raw := <-resultCh:
			return runner.Output{Raw: raw}, nil
		default:
			return runner.Output{}, fmt.Errorf("runner/mcp: agent process for stage %s exited without calling submit_output", stage)
		}
	case <-ctx.Done():
		return runner.Output{}, ctx.Err()
	}
}
