package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"pagescope/internal/broker"
	"pagescope/internal/dashboard"
	"pagescope/internal/domain"
	"pagescope/internal/store"
	"pagescope/internal/viewport"
)

const maxBodyBytes = 1 << 20

// Server serves the pagescope HTTP API.
type Server struct {
	broker  *broker.Broker
	charts  *viewport.Registry
	summary *dashboard.Consumer
	recs    *Recorders
	log     *slog.Logger

	// Dataset source for GET/PUT /api/datasets (nil if not configured).
	source store.DatasetSource

	mu      sync.Mutex
	dataset string
}

// NewServer creates a new HTTP API server. recs may be nil when charts have
// no recording delegates; slices are then read from the controllers.
func NewServer(
	b *broker.Broker,
	charts *viewport.Registry,
	summary *dashboard.Consumer,
	recs *Recorders,
	log *slog.Logger,
) *Server {
	return &Server{
		broker:  b,
		charts:  charts,
		summary: summary,
		recs:    recs,
		log:     log,
	}
}

// SetSource enables the dataset endpoints. name is the dataset currently
// loaded into the charts.
func (s *Server) SetSource(src store.DatasetSource, name string) {
	s.mu.Lock()
	s.source = src
	s.dataset = name
	s.mu.Unlock()
}

// LoadDataset replaces the records of every chart and of the summary.
func (s *Server) LoadDataset(name string, records []domain.Record) {
	s.mu.Lock()
	s.dataset = name
	s.mu.Unlock()
	s.charts.SetDatasetAll(records)
	if s.summary != nil {
		s.summary.SetRecords(records)
	}
	s.log.Info("dataset loaded", "dataset", name, "points", len(records))
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/range", s.handleGetRange)
	mux.HandleFunc("PUT /api/range", s.handlePutRange)
	mux.HandleFunc("DELETE /api/range", s.handleDeleteRange)
	mux.HandleFunc("GET /api/charts", s.handleCharts)
	mux.HandleFunc("GET /api/charts/{id}", s.handleChart)
	mux.HandleFunc("PUT /api/charts/{id}/active", s.handleSetActive)
	mux.HandleFunc("POST /api/charts/{id}/zoom", s.handleZoom)
	mux.HandleFunc("POST /api/charts/{id}/pan/{dir}", s.handlePan)
	mux.HandleFunc("POST /api/charts/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/datasets", s.handleDatasets)
	mux.HandleFunc("PUT /api/datasets/{name}", s.handleLoadDataset)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// parseSortMode extracts the sort mode from the "sort" query param.
func parseSortMode(r *http.Request) int {
	v := r.URL.Query().Get("sort")
	switch v {
	case "", "name":
		return dashboard.SortByName
	case "value":
		return dashboard.SortByValue
	case "rise":
		return dashboard.SortByRise
	case "drop":
		return dashboard.SortByDrop
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n >= dashboard.SortModeCount {
		return dashboard.SortByName
	}
	return n
}

func (s *Server) chart(w http.ResponseWriter, r *http.Request) (*viewport.Controller, bool) {
	id := r.PathValue("id")
	c, ok := s.charts.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown chart: "+id)
		return nil, false
	}
	return c, true
}

func (s *Server) writeChart(w http.ResponseWriter, c *viewport.Controller) {
	var rec *Recorder
	if s.recs != nil {
		rec, _ = s.recs.Get(c.ID())
	}
	writeJSON(w, convertChart(c, rec))
}

func (s *Server) handleGetRange(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, convertRangeResponse(s.broker))
}

func (s *Server) handlePutRange(w http.ResponseWriter, r *http.Request) {
	var req RangeJSON
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dr, err := domain.ParseDateRange(req.Start, req.End)
	if err != nil {
		s.log.Warn("rejecting range", "start", req.Start, "end", req.End, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.broker.UpdateRange(dr, broker.Explicit)
	writeJSONStatus(w, http.StatusAccepted, convertRangeResponse(s.broker))
}

func (s *Server) handleDeleteRange(w http.ResponseWriter, _ *http.Request) {
	s.broker.UpdateRange(domain.DateRange{}, broker.Explicit)
	writeJSONStatus(w, http.StatusAccepted, convertRangeResponse(s.broker))
}

func (s *Server) handleCharts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, ChartsResponse{Charts: s.charts.IDs(), Active: s.charts.ActiveID()})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	s.writeChart(w, c)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.charts.SetActive(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, ChartsResponse{Charts: s.charts.IDs(), Active: id})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	var req ZoomRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	switch {
	case req.Level != nil && req.Pointer != nil:
		err = c.SetZoomLevelAt(*req.Level, *req.Pointer)
	case req.Level != nil:
		err = c.SetZoomLevel(*req.Level)
	case req.Delta != nil:
		err = c.OnZoomDelta(*req.Delta, req.Pointer)
	default:
		writeError(w, http.StatusBadRequest, "zoom needs delta or level")
		return
	}
	switch {
	case errors.Is(err, viewport.ErrInvalidZoomLevel):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, viewport.ErrEmptyDataset):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeChart(w, c)
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	dir, err := viewport.ParseDirection(r.PathValue("dir"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, PanResponse{Moved: c.Pan(dir)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.chart(w, r)
	if !ok {
		return
	}
	c.ResetToDefault()
	s.writeChart(w, c)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.summary == nil {
		writeError(w, http.StatusServiceUnavailable, "summary not configured")
		return
	}
	writeJSON(w, convertSummary(s.summary.Summary(), s.summary.Previous(), parseSortMode(r)))
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	src, active := s.source, s.dataset
	s.mu.Unlock()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "no dataset source configured")
		return
	}
	names, err := src.ListDatasets(r.Context())
	if err != nil {
		s.log.Error("listing datasets", "error", err)
		writeError(w, http.StatusInternalServerError, "listing datasets failed")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, DatasetsResponse{Active: active, Datasets: names})
}

func (s *Server) handleLoadDataset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src == nil {
		writeError(w, http.StatusServiceUnavailable, "no dataset source configured")
		return
	}
	name := r.PathValue("name")
	records, err := loadDataset(r.Context(), src, name)
	switch {
	case errors.Is(err, store.ErrDatasetNotFound), errors.Is(err, store.ErrInvalidName):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.log.Error("loading dataset", "dataset", name, "error", err)
		writeError(w, http.StatusInternalServerError, "loading dataset failed")
		return
	}
	s.LoadDataset(name, records)
	writeJSON(w, DatasetsResponse{Active: name, Datasets: []string{name}})
}

func loadDataset(ctx context.Context, src store.DatasetSource, name string) ([]domain.Record, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	return src.LoadDataset(ctx, name)
}
