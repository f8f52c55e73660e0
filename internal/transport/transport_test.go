package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/collabsync/internal/auth"
	"github.com/ruvnet/collabsync/internal/config"
	"github.com/ruvnet/collabsync/internal/crdt"
	"github.com/ruvnet/collabsync/internal/models"
	"github.com/ruvnet/collabsync/internal/store"
	"github.com/ruvnet/collabsync/internal/sync"
	"github.com/ruvnet/collabsync/pkg/metrics"
)

type fakeLoader struct {
	docs map[uuid.UUID]*models.Document
}

func (f *fakeLoader) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return doc, nil
}

// noopSyncStore is never exercised by these tests (no socket actually
// completes a sync round in an httptest.Server-less upgrade attempt)
// but satisfies sync.Registry's dependency.
type noopSyncStore struct{}

func (noopSyncStore) StoreUpdate(ctx context.Context, documentID uuid.UUID, currentSV crdt.StateVector, update []byte) (crdt.StateVector, error) {
	return currentSV, nil
}

func (noopSyncStore) ComputeDiff(ctx context.Context, documentID uuid.UUID, peerSV crdt.StateVector) ([]byte, error) {
	return []byte{}, nil
}

func newTestHandler(t *testing.T, docs map[uuid.UUID]*models.Document, secret string) *Handler {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	reg := sync.NewRegistry(128, noopSyncStore{}, logger, nil)
	verifier := auth.NewVerifier(secret)
	rlCfg := config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 1000}
	return NewHandler(&fakeLoader{docs: docs}, reg, verifier, config.SyncConfig{ClientOutboxSize: 128}, rlCfg, metrics.NewMetrics(), logger)
}

func TestUpgradeRejectsWrongOwnerWith404(t *testing.T) {
	secret := "test-secret"
	owner := uuid.New()
	other := uuid.New()
	docID := uuid.New()

	h := newTestHandler(t, map[uuid.UUID]*models.Document{
		docID: {ID: docID, OwnerID: owner, Name: "doc"},
	}, secret)

	router := gin.New()
	h.RegisterRoutes(router)

	v := auth.NewVerifier(secret)
	token, err := v.Sign(other.String(), "someone-else", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/"+docID.String()+"?token="+token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpgradeRejectsInvalidTokenWith401(t *testing.T) {
	secret := "test-secret"
	docID := uuid.New()
	owner := uuid.New()

	h := newTestHandler(t, map[uuid.UUID]*models.Document{
		docID: {ID: docID, OwnerID: owner, Name: "doc"},
	}, secret)

	router := gin.New()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/"+docID.String()+"?token=unauthorized-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpgradeRejectsMissingDocumentWith404(t *testing.T) {
	secret := "test-secret"
	owner := uuid.New()

	h := newTestHandler(t, map[uuid.UUID]*models.Document{}, secret)

	router := gin.New()
	h.RegisterRoutes(router)

	v := auth.NewVerifier(secret)
	token, err := v.Sign(owner.String(), "someone", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/"+uuid.New().String()+"?token="+token, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpgradeRejectsOverLimitAttemptsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	reg := sync.NewRegistry(128, noopSyncStore{}, logger, nil)
	verifier := auth.NewVerifier("secret")
	rlCfg := config.RateLimitConfig{RequestsPerMinute: 60, Burst: 1}
	h := NewHandler(&fakeLoader{docs: map[uuid.UUID]*models.Document{}}, reg, verifier, config.SyncConfig{ClientOutboxSize: 128}, rlCfg, metrics.NewMetrics(), logger)

	router := gin.New()
	h.RegisterRoutes(router)

	docID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/"+docID.String(), nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGreetingAndHealthEndpoints(t *testing.T) {
	h := newTestHandler(t, map[uuid.UUID]*models.Document{}, "secret")
	router := gin.New()
	h.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
