// Command ema-chat is a terminal chat client for the ema backend with voice
// input and spoken replies.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-chat/internal/config"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath  string
		printSchema bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&printSchema, "config-schema", false, "Print the JSON schema of the configuration file and exit")
	flag.Parse()

	if printSchema {
		schema, err := json.MarshalIndent(config.Schema(), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode config schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(schema))
		return
	}

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ema-chat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := setupTelemetry(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "ema-chat: failed to flush telemetry: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	obs := &observer{}
	a, err := newApp(cfg, obs)
	if err != nil {
		return err
	}
	defer a.Close()

	var voice voiceControls
	if cfg.VoiceEnabled() {
		voice = a
	}
	program := tea.NewProgram(newModel(ctx, a.orchestrator, voice, a.checkBackend),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	obs.program = program

	logger.Info("chat started",
		slog.String("backend", cfg.Backend.URL),
		slog.Bool("voice_input", cfg.Voice.InputEnabled),
		slog.Bool("voice_output", cfg.Voice.OutputEnabled),
	)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal ui failed: %w", err)
	}
	logger.Info("chat ended")
	return nil
}
