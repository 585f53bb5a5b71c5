package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/models"
)

// Server handles HTTP requests on top of an App.
type Server struct {
	app    *App
	hub    *Hub
	logger log15.Logger
}

// NewServer creates a Server and subscribes its websocket hub to state
// transitions.
func NewServer(app *App, logger log15.Logger) *Server {
	s := &Server{
		app:    app,
		hub:    NewHub(app.thumbs, logger),
		logger: logger.New("component", "server"),
	}

	app.manager.Subscribe(s.hub.Broadcast)

	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}

	writeJSON(w, code, map[string]any{
		"error": err.Error(),
		"kind":  models.KindOf(err),
	})
}

func (s *Server) writeState(w http.ResponseWriter, status int, extra map[string]any) {
	response, err := stateResponse(s.app, extra)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, status, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := buildStatusResponse(s.app)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLoadCache(w http.ResponseWriter, r *http.Request) {
	loaded := s.app.Start(r.Context())
	s.writeState(w, http.StatusOK, map[string]any{"loaded": loaded})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	hasUpdate := s.app.manager.CheckForUpdates(r.Context())
	s.writeState(w, http.StatusOK, map[string]any{"hasUpdate": hasUpdate})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.app.DownloadInBackground()
	s.writeState(w, http.StatusAccepted, nil)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := s.app.Clear(r.Context())
	s.writeState(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	var groups []models.GroupInfo

	err := s.app.withSnapshot(r.Context(), func() (err error) {
		groups, err = s.app.loader.Groups(r.Context())
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	var stats *models.GroupStats

	err := s.app.withSnapshot(r.Context(), func() (err error) {
		stats, err = s.app.loader.Stats(r.Context(), chi.URLParam(r, "group"))
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) loadChart(r *http.Request) (*chart.Model, error) {
	var m *chart.Model

	err := s.app.withSnapshot(r.Context(), func() (err error) {
		m, err = s.app.Chart(r.Context(), chi.URLParam(r, "group"))
		return err
	})

	return m, err
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	m, err := s.loadChart(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ChartResponse{Model: m, Options: m.Options()})
}

func (s *Server) handleTooltip(w http.ResponseWriter, r *http.Request) {
	series := r.URL.Query().Get("series")

	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if series == "" || err != nil {
		http.Error(w, "series and index required", http.StatusBadRequest)
		return
	}

	m, err := s.loadChart(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	tip, ok := m.Tooltip(series, index, s.app.thumbs)
	if !ok {
		http.Error(w, "no data point", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, tip)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]string{
		"videoId": videoID,
		"url":     s.app.thumbs.Resolve(ctx, videoID),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(req.SQL) == "" {
		http.Error(w, "sql required", http.StatusBadRequest)
		return
	}

	var res *models.QueryResult

	err := s.app.withSnapshot(r.Context(), func() (err error) {
		res, err = s.app.engine.Query(r.Context(), req.SQL)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	db := s.app.engine.State()

	response := map[string]any{
		"connected": db.Status == models.DBReady,
		"db":        db,
		"clients":   s.hub.Clients(),
		"timestamp": time.Now().Unix(),
	}

	writeJSON(w, http.StatusOK, response)
}

// Routes returns the router serving the API and the static UI.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/cache/load", s.handleLoadCache)
		r.Delete("/cache", s.handleClearCache)
		r.Post("/check", s.handleCheck)
		r.Post("/download", s.handleDownload)
		r.Get("/ws", s.hub.Handler(s.app.manager.State))

		r.Get("/groups", s.handleGroups)
		r.Route("/groups/{group}", func(r chi.Router) {
			r.Get("/stats", s.handleGroupStats)
			r.Get("/chart", s.handleChart)
			r.Get("/tooltip", s.handleTooltip)
		})

		r.Get("/thumbnails/{videoId}", s.handleThumbnail)
		r.Post("/query", s.handleQuery)
		r.Get("/server/ping", s.handlePing)
	})

	if dir := s.app.cfg.HTTP.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s.logger.Info("shutting down server")

		return srv.Shutdown(shutdownCtx)
	}
}
