// Package transport is the HTTP/WebSocket upgrade boundary: it owns
// the auth and authorization checks the core Syncer never sees, then
// hands an accepted socket off to a new client session bound to the
// document's Syncer.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ruvnet/collabsync/internal/apierror"
	"github.com/ruvnet/collabsync/internal/auth"
	"github.com/ruvnet/collabsync/internal/config"
	"github.com/ruvnet/collabsync/internal/crdt"
	"github.com/ruvnet/collabsync/internal/models"
	"github.com/ruvnet/collabsync/internal/session"
	"github.com/ruvnet/collabsync/internal/store"
	"github.com/ruvnet/collabsync/internal/sync"
	"github.com/ruvnet/collabsync/pkg/metrics"
)

// DocumentLoader is the read-only slice of the store the upgrade
// handler needs: enough to authorize a connecting user and seed a
// freshly created Syncer. *store.Store satisfies this.
type DocumentLoader interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// Handler wires the upgrade flow: auth, authorization, registry
// lookup, session handoff.
type Handler struct {
	loader   DocumentLoader
	registry *sync.Registry
	verifier *auth.Verifier
	upgrader websocket.Upgrader
	syncCfg  config.SyncConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger
	rateLimit gin.HandlerFunc
}

// NewHandler builds the upgrade handler.
func NewHandler(loader DocumentLoader, registry *sync.Registry, verifier *auth.Verifier, syncCfg config.SyncConfig, rlCfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		loader:    loader,
		registry:  registry,
		verifier:  verifier,
		syncCfg:   syncCfg,
		metrics:   m,
		logger:    logger,
		rateLimit: rateLimitUpgrades(rlCfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the HTTP surface described in the external
// interfaces section: a static greeting, the health/metrics endpoints,
// and the document upgrade route.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.handleGreeting)
	router.GET("/health", h.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.GetRegistry(), promhttp.HandlerOpts{})))
	router.GET("/:document_id", h.rateLimit, h.handleUpgrade)
}

func (h *Handler) handleGreeting(c *gin.Context) {
	c.String(http.StatusOK, "collabsync: realtime collaborative editing server")
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

// handleUpgrade implements the auth → authorization → registry →
// session pipeline described in §6 of the external interfaces.
func (h *Handler) handleUpgrade(c *gin.Context) {
	start := time.Now()

	documentID, err := uuid.Parse(c.Param("document_id"))
	if err != nil {
		h.respondError(c, start, apierror.NewBadRequest("malformed document id"))
		return
	}

	claims, err := h.verifier.Validate(c.Query("token"))
	if err != nil {
		h.respondError(c, start, apierror.NewAuthError("invalid or expired token"))
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		h.respondError(c, start, apierror.NewAuthError("token user_id is not a valid identifier"))
		return
	}

	doc, err := h.loader.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			h.respondError(c, start, apierror.NewDocumentNotFound("document not found"))
			return
		}
		h.respondError(c, start, apierror.Wrap(apierror.Unexpected, "failed to load document", err))
		return
	}

	// A mismatch is reported identically to a missing row, so a caller
	// cannot distinguish "exists but not yours" from "does not exist".
	if doc.OwnerID != userID {
		h.respondError(c, start, apierror.NewDocumentNotFound("document not found"))
		return
	}

	seedSV, err := crdt.DecodeStateVector(doc.StateVector)
	if err != nil {
		h.respondError(c, start, apierror.Wrap(apierror.Unexpected, "corrupt cached state vector", err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err), zap.String("document_id", documentID.String()))
		return
	}

	h.metrics.RecordRequest("upgraded", time.Since(start))
	inbox := h.registry.GetOrCreate(documentID, seedSV)

	sess := session.New(conn, userID, inbox, h.syncCfg.ClientOutboxSize, h.logger)
	h.metrics.SessionConnected()
	go func() {
		defer h.metrics.SessionDisconnected()
		sess.Run()
	}()
}

func (h *Handler) respondError(c *gin.Context, start time.Time, apiErr *apierror.Error) {
	h.metrics.RecordRequest(string(apiErr.Code), time.Since(start))
	c.JSON(apiErr.HTTPStatus(), gin.H{"error": apiErr.Code, "message": apiErr.Message})
}
