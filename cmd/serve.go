package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/catalog-sync/internal/job"
	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job API server and queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			err := env.Queue.Start(gctx)
			if eris.Is(err, context.Canceled) {
				return nil
			}
			return err
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter assembles the HTTP job surface.
func buildRouter(env *serviceEnv) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/queue/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, env.Queue.Status())
	})

	r.Post("/jobs/create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UniversityName string   `json:"university_name"`
			Country        string   `json:"country"`
			URLs           []string `json:"urls"`
			CreatedBy      string   `json:"created_by"`
			AutoPublish    bool     `json:"auto_publish"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UniversityName == "" {
			writeError(w, http.StatusBadRequest, "university_name is required")
			return
		}

		j, err := env.Manager.CreateJob(r.Context(), req.UniversityName, model.Country(req.Country), req.URLs, req.CreatedBy)
		if err != nil {
			zap.L().Error("create job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create job")
			return
		}
		env.Queue.Enqueue(j, job.ExecOptions{
			AutoPublish: req.AutoPublish,
			CreatedBy:   req.CreatedBy,
		})

		writeJSON(w, http.StatusCreated, j)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		j, err := env.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			zap.L().Error("get job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load job")
			return
		}
		writeJSON(w, http.StatusOK, j)
	})

	r.Post("/jobs/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ApprovedBy string   `json:"approved_by"`
			ProgramIDs []string `json:"program_ids"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		j, err := env.Manager.ApproveAndPublish(r.Context(), chi.URLParam(r, "id"), req.ApprovedBy, req.ProgramIDs)
		if err != nil {
			switch {
			case eris.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "job not found")
			case eris.Is(err, job.ErrInvalidState):
				writeError(w, http.StatusConflict, "job is not ready to publish")
			default:
				zap.L().Error("approve failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to publish job")
			}
			return
		}
		writeJSON(w, http.StatusOK, j)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
