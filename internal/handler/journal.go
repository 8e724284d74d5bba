package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/journal"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// JournalHandler exposes read-only HTTP endpoints for the engagement journal.
type JournalHandler struct {
	journal journal.Journal
	logger  *zap.Logger
}

// NewJournalHandler creates a new JournalHandler.
func NewJournalHandler(j journal.Journal, logger *zap.Logger) *JournalHandler {
	return &JournalHandler{journal: j, logger: logger}
}

// Register mounts the journal routes on the given router group.
func (h *JournalHandler) Register(rg *gin.RouterGroup) {
	j := rg.Group("/journal")
	{
		j.GET("", h.Overview)
		j.GET("/verify", h.Verify)
		j.GET("/entries", h.List)
		j.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /journal and returns the chain length and root hash.
func (h *JournalHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.journal.Len(ctx)
	if err != nil {
		h.logger.Error("journal Len", zap.Error(err))
		abortJSON(c, http.StatusInternalServerError, streak.ReasonInternal, "failed to query journal")
		return
	}

	root, err := h.journal.Root(ctx)
	if err != nil {
		h.logger.Error("journal Root", zap.Error(err))
		abortJSON(c, http.StatusInternalServerError, streak.ReasonInternal, "failed to query journal root")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /journal/verify by walking the full chain.
func (h *JournalHandler) Verify(c *gin.Context) {
	if err := h.journal.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("journal integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// List handles GET /journal/entries?offset=&limit=.
func (h *JournalHandler) List(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		badRequest(c, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		badRequest(c, "limit must be a positive integer")
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	entries, err := h.journal.List(c.Request.Context(), offset, limit)
	if err != nil {
		h.logger.Error("journal List", zap.Error(err))
		abortJSON(c, http.StatusInternalServerError, streak.ReasonInternal, "failed to list journal entries")
		return
	}
	if entries == nil {
		entries = []*journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"offset":  offset,
		"limit":   limit,
	})
}

// GetEntry handles GET /journal/entries/:idx.
func (h *JournalHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		badRequest(c, "idx must be a non-negative integer")
		return
	}

	entry, err := h.journal.Get(c.Request.Context(), idx)
	if errors.Is(err, journal.ErrEntryNotFound) {
		abortJSON(c, http.StatusNotFound, streak.ReasonNotFound, "entry not found")
		return
	}
	if err != nil {
		h.logger.Error("journal Get", zap.Int("idx", idx), zap.Error(err))
		abortJSON(c, http.StatusInternalServerError, streak.ReasonInternal, "failed to query journal")
		return
	}
	c.JSON(http.StatusOK, entry)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
