package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/engine"
	"github.com/taskdeck/taskdeck/internal/history"
	"github.com/taskdeck/taskdeck/internal/responder"
	"github.com/taskdeck/taskdeck/internal/server"
	"github.com/taskdeck/taskdeck/internal/tasks"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serve(os.Args[2:])
	case "chat":
		chat(os.Args[2:])
	case "clear":
		clear(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  taskdeck serve [--config <file.yaml>] [--addr <host:port>]")
	fmt.Fprintln(os.Stderr, "  taskdeck chat [--config <file.yaml>] [--session <id>] [--external] [--model <model>] <message>")
	fmt.Fprintln(os.Stderr, "  taskdeck clear [--config <file.yaml>] [--session <id>]")
}

func loadConfig(path string) *config.File {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

func buildEngine(cfg *config.File) *engine.Engine {
	logger := log.New(os.Stderr, "[taskdeck] ", log.LstdFlags)
	store := history.NewStore(cfg.History.Dir, logger)
	if hours := cfg.History.Retention.MaxAgeHours; hours > 0 {
		pruned := store.Prune(time.Duration(hours)*time.Hour, cfg.History.Retention.KeepGlobs)
		if len(pruned) > 0 {
			logger.Printf("pruned %d expired session logs", len(pruned))
		}
	}
	selector := engine.DefaultSelector(responder.Config{
		BaseURL:   cfg.Assistant.BaseURL,
		APIKeyEnv: cfg.Assistant.APIKeyEnv,
		Model:     cfg.Assistant.Model,
	})
	return engine.New(store, selector, logger)
}

func serve(args []string) {
	var configPath string
	var addr string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--addr":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--addr requires a value")
				os.Exit(1)
			}
			addr = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg := loadConfig(configPath)
	if addr != "" {
		cfg.Server.Addr = addr
	}

	eng := buildEngine(cfg)
	taskClient := tasks.NewClient(tasks.Config{
		BaseURL: cfg.Tasks.BaseURL,
		Timeout: time.Duration(cfg.Tasks.TimeoutMS) * time.Millisecond,
		UseMock: cfg.Tasks.UseMock,
	})

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		DefaultSession: cfg.Assistant.DefaultSession,
	}, eng, taskClient)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func chat(args []string) {
	var configPath string
	var session string
	var model string
	var external bool
	var message string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--session":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--session requires a value")
				os.Exit(1)
			}
			session = args[i]
		case "--model":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--model requires a value")
				os.Exit(1)
			}
			model = args[i]
		case "--external":
			external = true
		default:
			if message != "" {
				fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
				os.Exit(1)
			}
			message = args[i]
		}
	}
	if message == "" {
		usage()
		os.Exit(1)
	}

	cfg := loadConfig(configPath)
	if session == "" {
		session = cfg.Assistant.DefaultSession
	}
	if external {
		cfg.Assistant.UseExternal = true
	}

	eng := buildEngine(cfg)
	res := eng.Submit(context.Background(), session, message, cfg.Assistant.UseExternal || external, model)
	if res.Queued {
		// One-shot CLI submits against an idle engine; queued means another
		// process shares the session file, which this mode does not support.
		fmt.Fprintln(os.Stderr, "message queued unexpectedly")
		os.Exit(1)
	}
	for {
		chunk, ok := res.Stream.Recv()
		if !ok {
			break
		}
		fmt.Print(chunk)
	}
	fmt.Println()
}

func clear(args []string) {
	var configPath string
	var session string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--session":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--session requires a value")
				os.Exit(1)
			}
			session = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	cfg := loadConfig(configPath)
	if session == "" {
		session = cfg.Assistant.DefaultSession
	}

	eng := buildEngine(cfg)
	if err := eng.Clear(session); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("chat history cleared")
}
