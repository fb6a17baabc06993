package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/model"
	"github.com/leaseops/leaseverify/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve verification results over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openResultStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting results server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the results API over the given store.
func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/results", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.ResultFilter{
			WorkflowStatus: q.Get("workflow_status"),
			LeadStatus:     q.Get("lead_status"),
		}
		results, err := st.List(r.Context(), filter)
		if err != nil {
			zap.L().Error("list results failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
			return
		}
		writeJSON(w, http.StatusOK, results)
	})

	r.Get("/results/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := keyParam(r)
		result, err := st.Fetch(r.Context(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "contract not found"})
				return
			}
			zap.L().Error("fetch result failed", zap.String("key", key), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetch failed"})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Patch("/results/{key}/lead-status", patchStatus(st.PatchLeadStatus))
	r.Patch("/results/{key}/workflow-status", patchStatus(st.PatchWorkflowStatus))

	return r
}

// patchStatus builds a handler that reads {"status": "..."} and applies
// it through the given store patch.
func patchStatus(patch func(ctx context.Context, key, status string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
			return
		}

		key := keyParam(r)
		if err := patch(r.Context(), key, req.Status); err != nil {
			zap.L().Error("patch status failed", zap.String("key", key), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "update failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": req.Status})
	}
}

// keyParam resolves the key path segment to a sanitized contract key.
// Clients may send either the stored key or a percent-encoded contract
// number with slashes.
func keyParam(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	if dec, err := url.PathUnescape(raw); err == nil {
		raw = dec
	}
	return model.SanitizeKey(raw)
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
