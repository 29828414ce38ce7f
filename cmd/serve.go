package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/monitoring"
	"github.com/sells-group/finfuse/internal/pipeline"
	"github.com/sells-group/finfuse/internal/report"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fused records and validation reports over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector()
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		runner := env.Runner(cfg.Batch.MaxConcurrentTickers, collector)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env, runner, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter mounts the HTTP API.
func buildRouter(env *fusionEnv, runner *pipeline.Runner, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", env.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sources", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, env.Registry.Statuses())
		})
		r.Get("/companies/{ticker}", func(w http.ResponseWriter, req *http.Request) {
			format, err := report.ParseFormat(req.URL.Query().Get("format"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			fields := env.Fields
			if q := req.URL.Query().Get("fields"); q != "" {
				var unknown []string
				fields, unknown = model.ParseFields(strings.Split(q, ","))
				if len(unknown) > 0 {
					writeError(w, http.StatusBadRequest, eris.Errorf("unknown fields %s", strings.Join(unknown, ", ")))
					return
				}
			}

			rec, err := env.Orchestrator.Fuse(req.Context(), chi.URLParam(req, "ticker"), fields, env.Priority)
			if err != nil {
				zap.L().Error("serve: fuse failed", zap.String("ticker", chi.URLParam(req, "ticker")), zap.Error(err))
				writeError(w, http.StatusBadGateway, err)
				return
			}
			w.Header().Set("Content-Type", contentType(format))
			if err := report.EncodeRecord(w, format, rec); err != nil {
				zap.L().Error("serve: encode record", zap.Error(err))
			}
		})
		r.Get("/companies/{ticker}/report", func(w http.ResponseWriter, req *http.Request) {
			format, err := report.ParseFormat(req.URL.Query().Get("format"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res := runner.RunOne(req.Context(), chi.URLParam(req, "ticker"))
			w.Header().Set("Content-Type", contentType(format))
			if err := report.Encode(w, format, res.Report); err != nil {
				zap.L().Error("serve: encode report", zap.Error(err))
			}
		})
	})
	return r
}

func contentType(f report.Format) string {
	if f == report.FormatText {
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
