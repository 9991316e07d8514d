package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/retailnext/exec-action/internal/config"
	execmcp "github.com/retailnext/exec-action/internal/mcp"
	"github.com/retailnext/exec-action/internal/workflow"
)

func newMCPCmd() *cobra.Command {
	var (
		instructions bool
		httpAddr     string
		verbose      bool
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if instructions {
				fmt.Print(execmcp.Instructions)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return serve(ctx, httpAddr, verbose)
		},
	}
	cmd.Flags().BoolVar(&instructions, "instructions", false, "print model instructions and exit")
	cmd.Flags().StringVar(&httpAddr, "http", "", "start HTTP server on address (e.g. :9090)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
	return cmd
}

func serve(ctx context.Context, httpAddr string, verbose bool) error {
	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	logger := stderrLogger(verbose)
	r, err := workflow.NewRunner(cfg, workspace, logger)
	if err != nil {
		return err
	}

	store, closer, err := workflow.OpenHistory(cfg, workspace, config.HistoryDisk)
	if err != nil {
		return err
	}
	defer closer.Close()

	server := execmcp.NewServer(r, store, loaded.Path, logger)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
