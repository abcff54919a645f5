package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/db"
	"github.com/flowbill/flowbill-api/internal/webhook"
)

type deadLetterQuerier struct {
	db.Querier
	entries   map[uuid.UUID]db.DeadLetterEntry
	endpoints []db.WebhookEndpoint
}

func (q *deadLetterQuerier) GetDeadLetterEntry(ctx context.Context, id uuid.UUID) (db.DeadLetterEntry, error) {
	entry, ok := q.entries[id]
	if !ok {
		return db.DeadLetterEntry{}, pgx.ErrNoRows
	}
	return entry, nil
}

func (q *deadLetterQuerier) ListDeadLetterEntries(ctx context.Context, arg db.ListDeadLetterEntriesParams) ([]db.DeadLetterEntry, error) {
	var entries []db.DeadLetterEntry
	for _, entry := range q.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *deadLetterQuerier) ListActiveWebhookEndpoints(ctx context.Context) ([]db.WebhookEndpoint, error) {
	return q.endpoints, nil
}

func newDeadLetterRouter(querier db.Querier, deliverer webhook.Deliverer) *gin.Engine {
	router := gin.New()
	handler := NewDeadLetterHandler(NewCommonServices(querier, zap.NewNop()), deliverer, zap.NewNop())
	router.GET("/dead-letters", handler.ListDeadLetters)
	router.GET("/dead-letters/:id", handler.GetDeadLetter)
	router.POST("/dead-letters/:id/replay", handler.ReplayDeadLetter)
	return router
}

func TestListDeadLetters(t *testing.T) {
	entry := db.DeadLetterEntry{
		ID:        uuid.New(),
		EventType: "billing.failed",
		Payload:   []byte(`{"subscription_id":"sub_1"}`),
		TargetURL: "https://receiver.example.com/hooks",
		RequestID: uuid.NewString(),
	}
	querier := &deadLetterQuerier{entries: map[uuid.UUID]db.DeadLetterEntry{entry.ID: entry}}
	router := newDeadLetterRouter(querier, &stubDeliverer{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dead-letters?limit=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Object string               `json:"object"`
		Data   []db.DeadLetterEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "list", response.Object)
	require.Len(t, response.Data, 1)
	assert.Equal(t, entry.ID, response.Data[0].ID)
}

func TestGetDeadLetterNotFound(t *testing.T) {
	router := newDeadLetterRouter(&deadLetterQuerier{entries: map[uuid.UUID]db.DeadLetterEntry{}}, &stubDeliverer{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/dead-letters/"+uuid.NewString(), nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplayDeadLetter(t *testing.T) {
	entry := db.DeadLetterEntry{
		ID:        uuid.New(),
		EventType: "billing.failed",
		Payload:   []byte(`{"subscription_id":"sub_1"}`),
		TargetURL: "https://receiver.example.com/hooks",
		RequestID: uuid.NewString(),
	}
	querier := &deadLetterQuerier{
		entries: map[uuid.UUID]db.DeadLetterEntry{entry.ID: entry},
		endpoints: []db.WebhookEndpoint{
			{URL: "https://receiver.example.com/hooks", Secret: "endpoint-secret", Active: true},
		},
	}
	deliverer := &stubDeliverer{result: webhook.Result{Success: true, SentCount: 1}}
	router := newDeadLetterRouter(querier, deliverer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/dead-letters/"+entry.ID.String()+"/replay", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, webhook.EventBillingFailed, deliverer.lastEvent.Type)
	assert.JSONEq(t, string(entry.Payload), string(deliverer.lastEvent.Payload))
	require.Len(t, deliverer.lastTargets, 1)
	assert.Equal(t, "endpoint-secret", deliverer.lastTargets[0].Secret)
}

func TestReplayDeadLetterWithoutRegisteredEndpoint(t *testing.T) {
	entry := db.DeadLetterEntry{
		ID:        uuid.New(),
		EventType: "billing.failed",
		Payload:   []byte(`{}`),
		TargetURL: "https://gone.example.com/hooks",
	}
	querier := &deadLetterQuerier{entries: map[uuid.UUID]db.DeadLetterEntry{entry.ID: entry}}
	router := newDeadLetterRouter(querier, &stubDeliverer{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/dead-letters/"+entry.ID.String()+"/replay", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
