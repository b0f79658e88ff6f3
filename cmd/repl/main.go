// Command repl is a terminal front end to the inspector. Values evaluated here live in
// a regular session, so the browser inspector can attach to them with :open.
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
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/zeitstein/REPLey/internal/app"
	"github.com/zeitstein/REPLey/internal/config"
	"github.com/zeitstein/REPLey/internal/ui"
)

const (
	historyFile = ".repley_history"
	promptMain  = "repley> "
	promptCont  = "......> "
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit REPLey config file")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .repley/ workspace discovery")
	addr := flag.String("addr", "", "Optional HTTP listen address override (falls back to config)")
	serve := flag.Bool("serve", true, "Serve the browser inspector alongside the REPL")
	flag.Parse()

	cfg, _, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{Disable: *noWorkspace})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	// keep log lines off the prompt
	log.SetOutput(io.Discard)
	if cfg.Server.LogFile != "" {
		if f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			log.SetOutput(f)
			defer f.Close()
		}
	}

	inspector, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	base := ""
	if *serve {
		base = "http://" + cfg.HTTP.Addr
		go func() {
			if err := ui.NewServer(inspector).ListenAndServe(ctx); err != nil {
				log.Printf("inspector: %v", err)
			}
		}()
	}

	code := run(ctx, newREPL(inspector, base, os.Stdout))
	cancel()
	if err := inspector.Close(context.Background()); err != nil {
		log.Printf("shutdown: %v", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, r *repl) int {
	fmt.Fprintln(r.out, vizStyle.Render(r.app.Config.Server.Name+" "+r.app.Config.Server.Version)+
		mutedStyle.Render("  :help for commands"))

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	for {
		src, ok := readInput(ln, promptMain, promptCont)
		if !ok {
			fmt.Fprintln(r.out)
			return 0
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		quit, err := r.exec(ctx, src)
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		}
		if quit {
			return 0
		}
	}
}

// readInput reads one expression. A line ending in a backslash continues on the next
// line, which lets block YAML be typed in.
func readInput(ln *liner.State, prompt, cont string) (string, bool) {
	var b strings.Builder
	for {
		p := prompt
		if b.Len() > 0 {
			p = cont
		}
		line, err := ln.Prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		more := strings.HasSuffix(line, `\`)
		if more {
			line = strings.TrimSuffix(line, `\`)
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !more {
			return b.String(), true
		}
	}
}
