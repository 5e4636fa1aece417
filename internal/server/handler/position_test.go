package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"positionengine/internal/domain"
	"positionengine/internal/engine"
	"positionengine/internal/store/memory"
)

func newTestMux(t *testing.T) (*http.ServeMux, *engine.Service) {
	t.Helper()
	log := memory.NewEventLog()
	store := memory.NewPositionStore()
	ids := engine.NewIDGenerator()
	require.NoError(t, ids.Seed(context.Background(), log))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := engine.NewService(log, store, ids, engine.NewKeyedLock(time.Second), nil, nil, logger)

	h := NewPositionHandler(svc, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/positions", h.ListPositions)
	mux.HandleFunc("POST /api/positions", h.OpenPosition)
	mux.HandleFunc("GET /api/positions/{id}", h.GetPosition)
	mux.HandleFunc("GET /api/positions/{id}/events", h.GetEvents)
	mux.HandleFunc("POST /api/positions/{id}/adjust", h.AdjustPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", h.ClosePosition)
	mux.HandleFunc("POST /api/positions/{id}/orphan", h.MarkOrphaned)
	mux.HandleFunc("POST /api/positions/{id}/resolve", h.ResolveOrphan)
	return mux, svc
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestOpenAndGetPosition(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/positions", `{
		"symbol": "BTC-USD",
		"side": "long",
		"entry_price": "50000",
		"amount": "1.5",
		"owner": "momentum-agent",
		"metadata": {"strategy": "momentum"}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var pos domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos))
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	rec = doRequest(t, mux, http.MethodGet, "/api/positions/"+pos.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenPositionValidationError(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doRequest(t, mux, http.MethodPost, "/api/positions", `{"symbol":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/api/positions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPositionNotFound(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doRequest(t, mux, http.MethodGet, "/api/positions/BTC-USD_long_99_x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdjustAndCloseOverHTTP(t *testing.T) {
	mux, svc := newTestMux(t)
	pos := mustOpen(t, svc)

	rec := doRequest(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/adjust",
		`{"delta":"-0.5","reason":"partial exit"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/close",
		`{"realized_pnl":"1200.50"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Double close maps to 409.
	rec = doRequest(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/close",
		`{"realized_pnl":"0"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrphanAndResolveOverHTTP(t *testing.T) {
	mux, svc := newTestMux(t)
	pos := mustOpen(t, svc)

	rec := doRequest(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/orphan", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/orphan",
		`{"reason":"exchange mismatch"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/resolve",
		`{"note":"manually flattened"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var pos2 domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pos2))
	assert.Equal(t, "manually flattened", pos2.Metadata["resolution"])
}

func TestListPositionsWithFilter(t *testing.T) {
	mux, svc := newTestMux(t)
	mustOpen(t, svc)

	rec := doRequest(t, mux, http.MethodGet, "/api/positions?symbol=BTC-USD&status=open", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Positions []domain.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Positions, 1)

	rec = doRequest(t, mux, http.MethodGet, "/api/positions?symbol=ETH-USD", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Positions)
}

func TestGetEventsOverHTTP(t *testing.T) {
	mux, svc := newTestMux(t)
	pos := mustOpen(t, svc)

	rec := doRequest(t, mux, http.MethodGet, "/api/positions/"+pos.ID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, domain.EventOpened, resp.Events[0].Type)
}

func mustOpen(t *testing.T, svc *engine.Service) domain.Position {
	t.Helper()
	pos, err := svc.Open(context.Background(), engine.OpenRequest{
		Symbol:     "BTC-USD",
		Side:       domain.SideLong,
		EntryPrice: decimal.RequireFromString("50000"),
		Amount:     decimal.RequireFromString("2"),
		Owner:      "momentum-agent",
	})
	require.NoError(t, err)
	return pos
}
