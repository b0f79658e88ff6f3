package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/config"
	mcpserver "github.com/zeitstein/REPLey/internal/mcp"
	"github.com/zeitstein/REPLey/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit REPLey config file (overrides the workspace config)")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as workspace root instead of searching upwards")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .repley/ workspace discovery")
	initWorkspace := flag.Bool("init", false, "Create a .repley/ workspace in the current directory and exit")
	addr := flag.String("addr", "", "Optional HTTP listen address override (falls back to config)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	noMCP := flag.Bool("no-mcp", false, "Serve only the browser inspector")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		fmt.Printf("initialized %s in %s\n", config.WorkspaceDirName, cwd)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// stdio MCP owns stdout; keep stderr quiet too
	if !*noMCP && cfg.MCP.SSEPort == 0 {
		if cfg.Server.LogFile != "" {
			logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				log.SetOutput(logFile)
				defer logFile.Close()
			} else {
				log.SetOutput(io.Discard)
			}
		} else {
			log.SetOutput(io.Discard)
		}
	}
	if wsDir != "" {
		log.Printf("using workspace %s", wsDir)
	}

	inspector, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize inspector: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inspector.Close(closeCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- ui.NewServer(inspector).ListenAndServe(ctx)
	}()

	if *noMCP {
		if err := <-httpErr; err != nil {
			log.Fatalf("inspector exited with error: %v", err)
		}
		return
	}

	server, err := mcpserver.NewServer(inspector)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting REPLey MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting REPLey MCP stdio server")
		startErr = server.Start(ctx)
	}
	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Printf("mcp server exited with error: %v", startErr)
	}

	stop()
	if err := <-httpErr; err != nil {
		log.Printf("inspector exited with error: %v", err)
	}
}
