package mcp

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sys/unix"

	"github.com/retailnext/exec-action/internal/signals"
)

type workspaceParams struct{}

func (h *handler) workspaceHandler(ctx context.Context, req *sdkmcp.CallToolRequest, _ workspaceParams) (*sdkmcp.CallToolResult, any, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.runner

	var b strings.Builder
	fmt.Fprintf(&b, "Workspace: %s\n", r.Workspace)
	if h.configPath != "" {
		fmt.Fprintf(&b, "Config: %s\n", h.configPath)
	} else {
		fmt.Fprintln(&b, "Config: (none, using defaults)")
	}

	if r.MaxOutput > 0 {
		fmt.Fprintf(&b, "Max output: %d bytes per stream\n", r.MaxOutput)
	} else {
		fmt.Fprintln(&b, "Max output: unlimited")
	}
	if r.DrainTimeout > 0 {
		fmt.Fprintf(&b, "Drain timeout: %s\n", r.DrainTimeout)
	}

	sigs := r.Signals
	if sigs == nil {
		sigs = signals.Forwarded
	}
	names := make([]string, len(sigs))
	for i, s := range sigs {
		names[i] = s.String()
		if sig, ok := s.(syscall.Signal); ok {
			names[i] = unix.SignalName(sig)
		}
	}
	fmt.Fprintf(&b, "Forwarded signals: %s\n", strings.Join(names, ", "))

	if h.store == nil {
		fmt.Fprintln(&b, "History: disabled")
	} else {
		fmt.Fprintln(&b, "History: enabled (use exec_inspect / exec_history)")
	}

	return textResult(b.String())
}
