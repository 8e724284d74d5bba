package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/identity"
	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// StreakHandler exposes the ledger operations over HTTP.
type StreakHandler struct {
	svc        *ledger.Service
	auth       *identity.Authenticator
	ownerLimit gin.HandlerFunc
	logger     *zap.Logger
}

// NewStreakHandler creates a new StreakHandler.
func NewStreakHandler(svc *ledger.Service, auth *identity.Authenticator, logger *zap.Logger) *StreakHandler {
	return &StreakHandler{svc: svc, auth: auth, logger: logger}
}

// SetOwnerLimiter installs a limiter, typically OwnerRateLimiter, that runs
// on the mutating routes after the owner is authenticated.
func (h *StreakHandler) SetOwnerLimiter(mw gin.HandlerFunc) { h.ownerLimit = mw }

// Register mounts the streak routes on the given router group.
func (h *StreakHandler) Register(rg *gin.RouterGroup) {
	mutate := []gin.HandlerFunc{identity.RequireOwner(h.auth)}
	if h.ownerLimit != nil {
		mutate = append(mutate, h.ownerLimit)
	}
	withOwner := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mutate...), fn)
	}

	s := rg.Group("/streaks")
	{
		s.POST("", withOwner(h.Initialize)...)
		s.POST("/engagements", withOwner(h.RecordEngagement)...)
		s.GET("/:owner", h.Get)
		s.GET("/:owner/address", h.Address)
	}
	rg.GET("/milestones", h.Milestones)
}

type initializeRequest struct {
	Owner string `json:"owner"`
}

// recordView is the read model returned for a record.
type recordView struct {
	Record         streak.Record      `json:"record"`
	Address        streak.Address     `json:"address"`
	NextEligibleAt int64              `json:"next_eligible_at"`
	ExpiresAt      int64              `json:"expires_at"`
	Milestones     []streak.Milestone `json:"milestones"`
	NextMilestone  *streak.Milestone  `json:"next_milestone,omitempty"`
}

func (h *StreakHandler) view(rec streak.Record) recordView {
	v := recordView{
		Record:         rec,
		Address:        h.svc.Address(rec.Owner),
		NextEligibleAt: rec.NextEligibleAt(),
		ExpiresAt:      rec.ExpiresAt(),
		Milestones:     h.svc.Milestones().Claimed(rec.MilestonesClaimed),
	}
	if v.Milestones == nil {
		v.Milestones = []streak.Milestone{}
	}
	if m, ok := h.svc.Milestones().Next(rec.StreakCount); ok {
		v.NextMilestone = &m
	}
	return v
}

// Initialize handles POST /streaks. The body may name the owner; it defaults
// to the authenticated caller and must match it.
func (h *StreakHandler) Initialize(c *gin.Context) {
	caller, _ := identity.OwnerFromCtx(c)
	owner := caller

	// Chunked bodies report ContentLength -1, so only a missing body is skipped.
	if body := c.Request.Body; body != nil && body != http.NoBody {
		var req initializeRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
		if req.Owner != "" {
			id, err := streak.ParseIdentity(req.Owner)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			owner = id
		}
	}

	res, err := h.svc.Initialize(c.Request.Context(), caller, owner)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"record":  res.Record,
		"address": res.Address,
		"events":  res.Events,
	})
}

// RecordEngagement handles POST /streaks/engagements for the authenticated caller.
func (h *StreakHandler) RecordEngagement(c *gin.Context) {
	owner, _ := identity.OwnerFromCtx(c)

	res, err := h.svc.RecordEngagement(c.Request.Context(), owner)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":           res.Record,
		"address":          res.Address,
		"events":           res.Events,
		"next_eligible_at": res.Record.NextEligibleAt(),
		"expires_at":       res.Record.ExpiresAt(),
	})
}

// Get handles GET /streaks/:owner.
func (h *StreakHandler) Get(c *gin.Context) {
	owner, err := streak.ParseIdentity(c.Param("owner"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), owner)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.view(*rec))
}

// Address handles GET /streaks/:owner/address. The address is derived, so it
// is returned whether or not a record exists.
func (h *StreakHandler) Address(c *gin.Context) {
	owner, err := streak.ParseIdentity(c.Param("owner"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":     owner,
		"namespace": h.svc.Namespace(),
		"address":   h.svc.Address(owner),
	})
}

// Milestones handles GET /milestones.
func (h *StreakHandler) Milestones(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"milestones":   h.svc.Milestones().All(),
		"min_interval": streak.MinInterval,
		"max_interval": streak.MaxInterval,
	})
}
