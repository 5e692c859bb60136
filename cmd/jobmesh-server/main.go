package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobmcallan/jobmesh/internal/app"
	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/models"
)

func main() {
	configPath := os.Getenv("JOBMESH_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)
	a.Start()

	mux := buildMux(a)

	host := a.Config.Server.Host
	port := a.Config.Server.Port

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		a.Logger.Info().Int("port", port).Msg("starting operational HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if err := a.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("failed to close app cleanly")
	}
	common.PrintShutdownBanner(a.Logger)
}

// buildMux builds the operational HTTP surface: health, version, queue
// introspection, and the job event websocket feed.
func buildMux(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(a))
	mux.HandleFunc("/version", versionHandler)
	mux.HandleFunc("/api/queues/", queueSnapshotHandler(a))
	mux.HandleFunc("/ws/jobs", a.Engine.Hub().ServeWS)
	return mux
}

func healthHandler(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		if err := a.Store.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}

// queueSnapshotHandler serves GET /api/queues/{priority} with the queue's
// ordered job records.
func queueSnapshotHandler(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		priority := models.JobPriority(r.URL.Path[len("/api/queues/"):])
		if !priority.Valid() {
			http.Error(w, "unknown priority", http.StatusNotFound)
			return
		}
		jobs, err := a.Engine.QueueSnapshot(r.Context(), priority)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jobs)
	}
}
