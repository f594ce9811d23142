// Command voxwire is a terminal client for live voice conversations through
// the Voxwire relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arveliot/voxwire/internal/calllog"
	"github.com/arveliot/voxwire/internal/config"
	"github.com/arveliot/voxwire/internal/health"
	"github.com/arveliot/voxwire/internal/observe"
	"github.com/arveliot/voxwire/pkg/agents"
	"github.com/arveliot/voxwire/pkg/audio/codec"
	"github.com/arveliot/voxwire/pkg/audio/ffmpeg"
	"github.com/arveliot/voxwire/pkg/session"
	"github.com/arveliot/voxwire/pkg/transcript"
	"github.com/arveliot/voxwire/pkg/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listAgents := flag.Bool("list-agents", false, "list the relay's configured agents and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Client.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Agent listing mode ────────────────────────────────────────────────────
	if *listAgents {
		return runListAgents(ctx, cfg)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxwire"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	// ── Call log store (optional) ─────────────────────────────────────────────
	var store *calllog.Store
	if cfg.Storage.PostgresDSN != "" {
		store, err = calllog.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			slog.Error("failed to open call log store", "err", err)
			return 1
		}
		defer store.Close()
	}

	// ── Metrics and health endpoint (optional) ────────────────────────────────
	if cfg.Client.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		var checkers []health.Checker
		if store != nil {
			checkers = append(checkers, health.PingChecker("calllog", store))
		}
		health.New(checkers...).Register(mux)
		go func() {
			if err := http.ListenAndServe(cfg.Client.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("metrics endpoint error", "err", err)
			}
		}()
		slog.Info("metrics endpoint listening", "addr", cfg.Client.MetricsAddr)
	}

	// ── Session wiring ────────────────────────────────────────────────────────
	sessionID := uuid.NewString()
	mode := cfg.Session.Mode
	if mode == "" {
		mode = config.ModeVoiceChat
	}

	client := transport.New(transport.Config{
		URL:         cfg.Relay.URL,
		SessionPath: string(mode),
		AgentID:     cfg.Session.AgentID,
		Token:       cfg.Relay.Token,
	})

	capture := ffmpeg.NewCapture(ffmpeg.CaptureConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		Device:     cfg.Audio.CaptureDevice,
		SampleRate: cfg.Audio.SampleRate,
	})
	speaker := ffmpeg.NewSpeaker(ffmpeg.SpeakerConfig{
		FFplayPath: cfg.Audio.FFplayPath,
		SampleRate: cfg.Audio.SampleRate,
		Volume:     cfg.Audio.Volume,
	})

	dec, err := buildDecoder(cfg)
	if err != nil {
		slog.Error("failed to build audio decoder", "err", err)
		return 1
	}

	assembler := transcript.NewAssembler()
	sess, err := session.New(session.Config{
		ID:           sessionID,
		Transport:    client,
		Capture:      capture,
		Output:       speaker,
		Decoder:      dec,
		Assembler:    assembler,
		BlockSamples: cfg.Audio.FrameSamples,
		Observer:     observe.NewSessionObserver(metrics),
		OnSpeaking: func(v bool) {
			if v {
				fmt.Println("· assistant speaking")
			}
		},
	})
	if err != nil {
		slog.Error("invalid session configuration", "err", err)
		return 1
	}

	// ── Run the conversation ──────────────────────────────────────────────────
	runCtx, span := observe.StartSpan(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("session.mode", string(mode)),
	))
	defer span.End()

	startedAt := time.Now().UTC()
	if err := sess.Start(runCtx); err != nil {
		observe.Logger(runCtx).Error("failed to start session", "err", err)
		return 1
	}
	fmt.Printf("voxwire session %s — mode %s — press Ctrl+C to hang up\n", sessionID, mode)

	select {
	case <-ctx.Done():
		observe.Logger(runCtx).Info("shutdown signal received, hanging up")
		if err := sess.Stop(); err != nil {
			slog.Warn("stop error", "err", err)
		}
	case <-sess.Done():
	}

	// ── Wrap-up ───────────────────────────────────────────────────────────────
	printTranscript(sess.Transcript())
	fmt.Printf("call length: %s\n", sess.Duration())

	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rec := calllog.Record{
			SessionID:  sessionID,
			AgentID:    cfg.Session.AgentID,
			Mode:       string(mode),
			Transcript: sess.Transcript(),
			Duration:   sess.Duration(),
			StartedAt:  startedAt,
		}
		if err := store.Save(saveCtx, rec); err != nil {
			slog.Warn("failed to persist call record", "err", err)
		} else {
			slog.Info("call record saved", "session_id", sessionID)
		}
	}

	if err := sess.Err(); err != nil {
		slog.Error("session failed", "err", err)
		return 1
	}
	return 0
}

// runListAgents prints the relay's agent directory.
func runListAgents(ctx context.Context, cfg *config.Config) int {
	client := agents.NewClient(apiBase(cfg), cfg.Relay.Token)
	list, err := client.List(ctx)
	if err != nil {
		slog.Error("failed to list agents", "err", err)
		return 1
	}
	if len(list) == 0 {
		fmt.Println("no agents configured")
		return 0
	}
	for _, a := range list {
		fmt.Printf("%4d  %-24s voice=%-10s %s\n", a.ID, a.Name, a.Voice, a.PhoneNumber)
	}
	return 0
}

// apiBase returns the HTTP base for the agent directory, deriving it from the
// relay WebSocket URL when not configured explicitly.
func apiBase(cfg *config.Config) string {
	if cfg.Relay.APIBase != "" {
		return cfg.Relay.APIBase
	}
	base := cfg.Relay.URL
	base = strings.Replace(base, "wss://", "https://", 1)
	base = strings.Replace(base, "ws://", "http://", 1)
	return base
}

// buildDecoder constructs the inbound audio decoder selected in cfg.
func buildDecoder(cfg *config.Config) (codec.Decoder, error) {
	switch cfg.Audio.Codec {
	case config.CodecOpus:
		rate := cfg.Audio.SampleRate
		if rate <= 0 {
			rate = 24000
		}
		return codec.NewOpus(rate, 1)
	default:
		return codec.NewPCM(), nil
	}
}

// printTranscript renders the conversation to stdout.
func printTranscript(msgs []transcript.Message) {
	if len(msgs) == 0 {
		return
	}
	fmt.Println("\n── transcript ──")
	for _, m := range msgs {
		marker := ""
		if m.Role == transcript.RoleAssistant && !m.Complete {
			marker = " (interrupted)"
		}
		fmt.Printf("%-9s %s%s\n", string(m.Role)+":", m.Content, marker)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
