package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"ollama-agent/internal/config"
	"ollama-agent/internal/domain"
	"ollama-agent/internal/integrations/ollama"
	"ollama-agent/internal/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	system := flag.String("system", "", "system instruction prepended to the conversation")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLog, err := buildLogger(cfg.Log.Dir)
	if err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(1)
	}
	defer closeLog()

	prompt, err := readPrompt(flag.Args())
	if err != nil {
		logger.Error("failed to read prompt", "err", err)
		os.Exit(1)
	}

	client, err := ollama.NewClient(
		ollama.WithBaseURL(cfg.Ollama.BaseURL),
		ollama.WithModel(cfg.Ollama.Model),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		ollama.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create ollama client", "err", err)
		os.Exit(1)
	}

	svc, err := usecase.NewCompletionService(client,
		usecase.WithRetryPolicy(cfg.RetryPolicy()),
		usecase.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create completion service", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var messages []domain.ChatMessage
	if *system != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: *system})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: prompt})

	res := svc.Complete(ctx, messages)
	if !res.OK() {
		logger.Error("no completion produced",
			"kind", res.Err.Code,
			"attempts", res.Attempts,
			"err", res.Err,
		)
		os.Exit(1)
	}
	fmt.Println(res.Text)
}

// buildLogger writes structured records to stderr and to a dated file under
// dir, mirroring the api_calls_YYYYMMDD.log convention of the deployment this
// client talks to.
func buildLogger(dir string) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("api_calls_%s.log", time.Now().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, f), nil)
	return slog.New(h), func() { _ = f.Close() }, nil
}

func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
