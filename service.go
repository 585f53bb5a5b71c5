package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/orian/viewcount/chart"
	"github.com/orian/viewcount/models"
)

// chartCache holds built charts keyed by snapshot marker and group.
type chartCache struct {
	mu     sync.Mutex
	charts map[string]*chart.Model
}

func newChartCache() *chartCache {
	return &chartCache{charts: make(map[string]*chart.Model)}
}

func chartKey(marker, group string) string {
	return strconv.Quote(marker) + "/" + group
}

// get returns the cached chart when it was built from the same snapshot.
func (c *chartCache) get(marker, group string) (*chart.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.charts[chartKey(marker, group)]

	return m, ok
}

func (c *chartCache) put(marker, group string, m *chart.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.charts[chartKey(marker, group)] = m
}

func (c *chartCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.charts = make(map[string]*chart.Model)
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	SQL string `json:"sql"`
}

// CacheInfo describes the local cache in a status response.
type CacheInfo struct {
	Dir       string `json:"dir"`
	Available bool   `json:"available"`
	HasBlob   bool   `json:"hasBlob"`
	HasMarker bool   `json:"hasMarker"`
	Usage     int64  `json:"usage"`
	UsageText string `json:"usageText"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State    json.RawMessage  `json:"state"`
	Metadata *models.Metadata `json:"metadata"`
	DB       models.DBState   `json:"db"`
	Cache    CacheInfo        `json:"cache"`
}

func buildStatusResponse(a *App) (*StatusResponse, error) {
	state, err := models.MarshalState(a.manager.State())
	if err != nil {
		return nil, err
	}

	usage := a.store.Usage()

	return &StatusResponse{
		State:    state,
		Metadata: a.manager.Metadata(),
		DB:       a.engine.State(),
		Cache: CacheInfo{
			Dir:       a.store.Dir(),
			Available: a.store.Available(),
			HasBlob:   a.store.HasBlob(),
			HasMarker: a.store.HasMarker(),
			Usage:     usage,
			UsageText: humanize.Bytes(uint64(usage)),
		},
	}, nil
}

// ChartResponse is the body of GET /api/groups/{group}/chart.
type ChartResponse struct {
	Model   *chart.Model   `json:"model"`
	Options *chart.Options `json:"options"`
}

// statusCode maps an error to the HTTP status reported for it.
func statusCode(err error) int {
	var (
		stateErr *models.StateError
		netErr   *models.NetworkError
		fmtErr   *models.FormatError
		capErr   *models.CapabilityError
	)

	switch {
	case errors.As(err, &stateErr):
		return http.StatusConflict
	case errors.As(err, &netErr):
		return http.StatusBadGateway
	case errors.As(err, &fmtErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &capErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// stateResponse wraps the current state with extra fields.
func stateResponse(a *App, extra map[string]any) (map[string]any, error) {
	state, err := models.MarshalState(a.manager.State())
	if err != nil {
		return nil, err
	}

	response := map[string]any{"state": json.RawMessage(state)}
	for k, v := range extra {
		response[k] = v
	}

	return response, nil
}
