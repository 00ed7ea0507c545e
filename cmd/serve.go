package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run-control HTTP server",
	Long:  "Exposes run start, inspection, and control over HTTP. Run starts and event attachment stream server-sent events; the persisted run log covers anything a disconnected client missed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s := &server{env: env}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", s.health)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/", s.listRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.showRun)
				r.Get("/logs", s.runLogs)
				r.Get("/events", s.runEvents)
				r.Post("/cancel", s.cancelRun)
				r.Post("/fail", s.failRun)
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type server struct {
	env *engineEnv
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startRun creates a run. A client that accepts text/event-stream gets the
// run's live feed as SSE until it settles; anyone else gets a 202 with the
// run record.
func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handle, err := s.env.Pipeline.Start(r.Context(), req)
	if err != nil {
		var reqErr *pipeline.RequestError
		if errors.As(err, &reqErr) {
			writeError(w, http.StatusBadRequest, reqErr.Error())
			return
		}
		zap.L().Error("start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	defer handle.Close()

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		run, err := s.env.Pipeline.Status(r.Context(), handle.RunID)
		if err != nil {
			zap.L().Error("get run after start", zap.String("run_id", handle.RunID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load run")
			return
		}
		writeJSON(w, http.StatusAccepted, run)
		return
	}

	streamEvents(w, r, handle.Events)
}

func (s *server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := runFilterFromQuery(r)
	runs, err := s.env.Store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) showRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.env.Pipeline.Status(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	stage, err := s.env.Pipeline.Stage(r.Context(), runID)
	if err != nil {
		zap.L().Warn("infer run stage", zap.String("run_id", runID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, struct {
		*model.Run
		Stage string `json:"stage,omitempty"`
	}{Run: run, Stage: stage})
}

func (s *server) runLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.env.Pipeline.Logs(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		zap.L().Error("list run logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run logs")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// runEvents attaches to an active run's live feed. Returns 404 for runs not
// active in this process; clients read the persisted log instead.
func (s *server) runEvents(w http.ResponseWriter, r *http.Request) {
	events, cancel, ok := s.env.Pipeline.Watch(chi.URLParam(r, "runID"))
	if !ok {
		writeError(w, http.StatusNotFound, "run is not active")
		return
	}
	defer cancel()
	streamEvents(w, r, events)
}

func (s *server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	ok, err := s.env.Pipeline.Cancel(r.Context(), runID)
	if err != nil {
		zap.L().Error("cancel run", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "run_id": runID})
}

func (s *server) failRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	ok, err := s.env.Pipeline.ForceFail(r.Context(), runID, body.Reason)
	if err != nil {
		zap.L().Error("force fail run", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fail run")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed", "run_id": runID})
}

// streamEvents writes a run event feed as server-sent events until the feed
// closes or the client disconnects.
func streamEvents(w http.ResponseWriter, r *http.Request, events <-chan pipeline.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func runFilterFromQuery(r *http.Request) (f store.RunFilter) {
	q := r.URL.Query()
	f.Status = model.RunStatus(q.Get("status"))
	f.Owner = q.Get("owner")
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err == nil && n > 0 {
			f.Limit = n
		}
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
