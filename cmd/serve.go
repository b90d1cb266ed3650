package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/audit"
	"github.com/sells-group/insight-cli/internal/collect"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/orchestrator"
	"github.com/sells-group/insight-cli/internal/resilience"
)

var servePort int

// serverEnv bundles the subsystems the API routes depend on.
type serverEnv struct {
	store     audit.Store
	orch      *orchestrator.Orchestrator
	collector *collect.Collector
	breakers  *resilience.BreakerRegistry
	metrics   *monitoring.Collector
	strategy  collect.Strategy
	lookback  int
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		orch, limiter, err := buildOrchestrator(st)
		if err != nil {
			return err
		}

		breakers := buildBreakers()
		collector, err := buildCollector(breakers)
		if err != nil {
			return err
		}

		env := &serverEnv{
			store:     st,
			orch:      orch,
			collector: collector,
			breakers:  breakers,
			metrics:   monitoring.NewCollector(st, breakers, limiter),
			strategy:  cfg.Collection,
			lookback:  cfg.Monitoring.LookbackWindowHours,
		}

		// Background alert checks when a webhook is configured.
		if cfg.Monitoring.WebhookURL != "" {
			alerter := monitoring.NewAlerter(cfg.Monitoring)
			checker := monitoring.NewChecker(env.metrics, alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(ctx, env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the API routes. runCtx bounds the lifetime of
// asynchronous analysis runs kicked off by POST /analyze.
func buildRouter(runCtx context.Context, env *serverEnv) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/analyze", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Symbol   string   `json:"symbol"`
			Modules  []string `json:"modules"`
			Priority string   `json:"priority"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if body.Symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol is required"})
			return
		}
		symbol := strings.ToUpper(body.Symbol)

		// Run asynchronously; the session is queryable once recorded.
		go env.runAnalysis(runCtx, symbol, body.Modules, body.Priority)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"symbol": symbol,
		})
	})

	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if q := req.URL.Query().Get("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}
		sessions, err := env.store.ListSessions(req.Context(), audit.SessionFilter{
			TargetKey: strings.ToUpper(req.URL.Query().Get("symbol")),
			Limit:     limit,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	r.Get("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		sess, err := env.store.GetSession(req.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if sess == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		executions, err := env.store.ListExecutions(req.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":    sess,
			"executions": executions,
		})
	})

	r.Get("/breakers", func(w http.ResponseWriter, _ *http.Request) {
		states := make(map[string]string)
		if env.breakers != nil {
			for resource, state := range env.breakers.States() {
				states[resource] = state.String()
			}
		}
		writeJSON(w, http.StatusOK, states)
	})

	r.Post("/breakers/{resource}/reset", func(w http.ResponseWriter, req *http.Request) {
		resource := chi.URLParam(req, "resource")
		env.breakers.Reset(resource)
		writeJSON(w, http.StatusOK, map[string]string{
			"resource": resource,
			"state":    env.breakers.Get(resource).State().String(),
		})
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		lookback := env.lookback
		if lookback <= 0 {
			lookback = 24
		}
		snap, err := env.metrics.Collect(req.Context(), lookback)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

// runAnalysis collects market data and orchestrates the requested modules.
func (env *serverEnv) runAnalysis(ctx context.Context, symbol string, names []string, priority string) {
	if env.orch == nil || env.collector == nil {
		zap.L().Warn("analysis skipped: server not fully wired", zap.String("symbol", symbol))
		return
	}

	if len(names) == 0 {
		names = moduleNames(env.orch)
	}

	marketData := orchestrator.Input{}
	collection, err := env.collector.Collect(ctx, symbol, env.strategy)
	if err != nil {
		zap.L().Error("collection failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
	} else {
		for source, data := range collection.Data {
			marketData[source] = data
		}
	}

	inputs := make(map[string]orchestrator.Input, len(names))
	for _, name := range names {
		inputs[name] = marketData
	}

	result, err := env.orch.Orchestrate(ctx, orchestrator.Request{
		TargetKey: symbol,
		Modules:   names,
		Priority:  priority,
		Inputs:    inputs,
	})
	if err != nil {
		zap.L().Error("analysis failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("analysis complete",
		zap.String("symbol", symbol),
		zap.String("session_id", result.SessionID),
		zap.Bool("success", result.Success),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
