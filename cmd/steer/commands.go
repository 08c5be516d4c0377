package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/okapilabs/steer/internal/backoff"
	"github.com/okapilabs/steer/internal/config"
	"github.com/okapilabs/steer/internal/engine"
	"github.com/okapilabs/steer/internal/policy"
	"github.com/okapilabs/steer/internal/store"
	"github.com/okapilabs/steer/internal/tools"
)

// buildRunCmd creates the "run" command that starts a new session.
func buildRunCmd() *cobra.Command {
	var (
		sessionID   string
		mode        string
		maxIters    int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run [message...]",
		Short: "Run a new agent session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Engine.Mode = mode
			}
			if maxIters > 0 {
				cfg.Engine.MaxIterations = maxIters
			}
			applyLogging(cfg.Logging)

			if metricsAddr != "" {
				serveMetrics(metricsAddr)
			}

			st, closeStore, err := buildStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			ctrl, err := buildController(cfg)
			if err != nil {
				return err
			}

			var opts []engine.SessionOption
			if cfg.Engine.RetrievalTool != "" {
				opts = append(opts, engine.WithRetrievalTool(cfg.Engine.RetrievalTool))
			}
			sess := engine.NewSession(sessionID, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, runErr := ctrl.Run(ctx, sess, strings.Join(args, " "))
			if saveErr := saveSession(ctx, st, sess); saveErr != nil {
				slog.Warn("failed to save session", "error", saveErr)
			}
			printSummary(cmd, sess)
			return runErr
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (generated when empty)")
	cmd.Flags().StringVar(&mode, "mode", "", "Interaction mode: default or plan")
	cmd.Flags().IntVar(&maxIters, "max-iterations", 0, "Override the iteration limit")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	return cmd
}

// buildResumeCmd creates the "resume" command that continues a paused session.
func buildResumeCmd() *cobra.Command {
	var answers []string

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a paused session, optionally answering its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyLogging(cfg.Logging)

			st, closeStore, err := buildStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			snap, err := st.Load(ctx, args[0])
			if err != nil {
				return err
			}
			sess, err := engine.RestoreSession(snap)
			if err != nil {
				return err
			}

			ctrl, err := buildController(cfg)
			if err != nil {
				return err
			}

			_, runErr := ctrl.Resume(ctx, sess, answers)
			if saveErr := saveSession(ctx, st, sess); saveErr != nil {
				slog.Warn("failed to save session", "error", saveErr)
			}
			printSummary(cmd, sess)
			return runErr
		},
	}

	cmd.Flags().StringArrayVar(&answers, "answer", nil, "Answer to a pending question (repeatable)")
	return cmd
}

// buildSessionsCmd creates the "sessions" command group.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage saved sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := loadStoreOnly()
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println("no saved sessions")
				return nil
			}
			for _, entry := range entries {
				cmd.Printf("%s\t%s\t%s\n",
					entry.SessionID, entry.Status, entry.SavedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a saved session snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := loadStoreOnly()
			if err != nil {
				return err
			}
			defer closeStore()

			snap, err := st.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			raw, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(raw))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := loadStoreOnly()
			if err != nil {
				return err
			}
			defer closeStore()
			return st.Delete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) && configPath == "steer.yaml" {
			return config.Default(), nil
		}
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return config.Load(configPath)
}

func loadStoreOnly() (store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return buildStore(cfg)
}

// applyLogging reconfigures the default slog logger per the config.
func applyLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildStore constructs the configured session store.
func buildStore(cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// buildPolicy constructs the configured decision policy.
func buildPolicy(cfg *config.Config) (engine.DecisionPolicy, error) {
	switch cfg.Policy.Provider {
	case "anthropic":
		return policy.NewAnthropicPolicy(policy.AnthropicConfig{
			APIKey:    cfg.Policy.APIKey,
			BaseURL:   cfg.Policy.BaseURL,
			Model:     cfg.Policy.Model,
			System:    cfg.Policy.System,
			MaxTokens: cfg.Policy.MaxTokens,
		})
	case "openai":
		return policy.NewOpenAIPolicy(policy.OpenAIConfig{
			APIKey:    cfg.Policy.APIKey,
			BaseURL:   cfg.Policy.BaseURL,
			Model:     cfg.Policy.Model,
			System:    cfg.Policy.System,
			MaxTokens: cfg.Policy.MaxTokens,
		})
	case "scripted":
		return policy.NewScriptedPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy provider %q", cfg.Policy.Provider)
	}
}

// buildRegistry constructs the tool registry with the built-in tools.
func buildRegistry(cfg *config.Config) (*engine.ToolRegistry, error) {
	registry := engine.NewToolRegistry()

	docs := make([]tools.Document, 0, len(cfg.Search.Documents))
	for _, doc := range cfg.Search.Documents {
		docs = append(docs, tools.Document{ID: doc.ID, Title: doc.Title, Body: doc.Body})
	}

	for _, tool := range []engine.Tool{
		tools.NewEchoTool(),
		tools.NewSearchTool(docs...),
		tools.NewClarifyTool(),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}
	return registry, nil
}

// buildController wires policy, registry, and loop bounds into a controller.
func buildController(cfg *config.Config) (*engine.Controller, error) {
	pol, err := buildPolicy(cfg)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	ctrlCfg := engine.ControllerConfig{
		MaxIterations:        cfg.Engine.MaxIterations,
		MaxConsecutiveErrors: cfg.Engine.MaxConsecutiveErrors,
		MaxToolAttempts:      cfg.Engine.MaxToolAttempts,
		Mode:                 engine.Mode(cfg.Engine.Mode),
		Backoff:              backoff.Default(),
	}
	return engine.NewController(pol, registry, engine.WithConfig(ctrlCfg)), nil
}

// saveSession snapshots the session into the store.
func saveSession(ctx context.Context, st store.Store, sess *engine.Session) error {
	snap, err := sess.Snapshot()
	if err != nil {
		return err
	}
	return st.Save(ctx, snap)
}

// printSummary writes the run outcome for the user.
func printSummary(cmd *cobra.Command, sess *engine.Session) {
	sum := sess.Summary()
	cmd.Printf("session %s: %s (%d iterations, %d tool calls, %d retrievals)\n",
		sum.SessionID, sum.Status, sum.Iterations, sum.ToolCalls, sum.RetrievalCalls)
	if sum.LastError != "" {
		cmd.Printf("last error: %s\n", sum.LastError)
	}
	if sum.PendingID != "" {
		if pending, ok := sess.PendingClarification(); ok {
			cmd.Println("waiting for answers to:")
			for _, q := range pending.Questions {
				cmd.Printf("  - %s\n", q)
			}
			cmd.Printf("resume with: steer resume %s --answer \"...\"\n", sum.SessionID)
		}
	}
}

// serveMetrics exposes the Prometheus registry for the duration of the run.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
}
