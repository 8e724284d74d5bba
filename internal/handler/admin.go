package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/snapshot"
)

// Snapshotter exports the record set on demand.
type Snapshotter interface {
	Export(ctx context.Context) (*snapshot.Manifest, error)
}

// RecordCounter reports how many records the store holds.
type RecordCounter interface {
	Count(ctx context.Context) (int, error)
}

// AdminHandler serves operator endpoints guarded by the admin secret.
type AdminHandler struct {
	secretHash string
	snapshots  Snapshotter
	records    RecordCounter
	logger     *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. snapshots may be nil when no
// snapshot destination is configured.
func NewAdminHandler(secretHash string, snapshots Snapshotter, records RecordCounter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{secretHash: secretHash, snapshots: snapshots, records: records, logger: logger}
}

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/admin", identity.RequireAdminSecret(h.secretHash))
	{
		a.GET("/stats", h.Stats)
		a.POST("/snapshots", h.Snapshot)
	}
}

// Stats handles GET /admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	n, err := h.records.Count(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": n})
}

// Snapshot handles POST /admin/snapshots.
func (h *AdminHandler) Snapshot(c *gin.Context) {
	if h.snapshots == nil {
		abortJSON(c, http.StatusNotImplemented, ReasonNotConfigured, "snapshots are not configured")
		return
	}
	m, err := h.snapshots.Export(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("snapshot exported on request",
		zap.String("key", m.DataKey),
		zap.Int("records", m.Records),
	)
	c.JSON(http.StatusCreated, m)
}
