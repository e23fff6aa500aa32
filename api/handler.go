package api

import (
	"context"
	"net/http"
	"time"

	"notepush/logger"
	"notepush/model"
	"notepush/policy"
	"notepush/reminder"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Tokens interface {
	Register(ctx context.Context, owner model.UserID, token, device string) (model.RegisterResult, error)
	Unsubscribe(ctx context.Context, owner model.UserID, token string) error
}

type Policies interface {
	Upsert(ctx context.Context, spec policy.Spec) (model.ReminderPolicy, error)
	Get(ctx context.Context, note model.NoteID) (model.ReminderPolicy, bool, error)
	Deactivate(ctx context.Context, note model.NoteID) error
}

type Scheduler interface {
	Arm(ctx context.Context, p model.ReminderPolicy) reminder.State
	Disarm(note model.NoteID)
	State(note model.NoteID) (reminder.State, time.Time)
}

type Handler struct {
	tokens    Tokens
	policies  Policies
	scheduler Scheduler
	logger    *zap.SugaredLogger
}

func NewHandler(tokens Tokens, policies Policies, scheduler Scheduler, l *zap.SugaredLogger) *Handler {
	return &Handler{tokens: tokens, policies: policies, scheduler: scheduler, logger: logger.Named(l, "api")}
}

type subscribeReq struct {
	Token  string `json:"token" binding:"required"`
	Device string `json:"device"`
}

type unsubscribeReq struct {
	Token string `json:"token" binding:"required"`
}

type reminderReq struct {
	Cadence  string     `json:"cadence" binding:"required"`
	Time     string     `json:"time"`
	TimeZone string     `json:"time_zone"`
	Anchor   *time.Time `json:"anchor"`
	EndAt    *time.Time `json:"end_at"`
}

type reminderResp struct {
	ID         string     `json:"id"`
	NoteID     string     `json:"note_id"`
	Cadence    string     `json:"cadence"`
	Time       string     `json:"time,omitempty"`
	TimeZone   string     `json:"time_zone"`
	Anchor     time.Time  `json:"anchor"`
	EndAt      *time.Time `json:"end_at,omitempty"`
	Active     bool       `json:"active"`
	State      string     `json:"state"`
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`
}

// POST /v1/notifications/subscribe
func (h *Handler) Subscribe(c *gin.Context) {
	usr := userOf(c)

	var req subscribeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	res, err := h.tokens.Register(c.Request.Context(), usr, req.Token, req.Device)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res.String()})
}

// POST /v1/notifications/unsubscribe
func (h *Handler) Unsubscribe(c *gin.Context) {
	usr := userOf(c)

	var req unsubscribeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := h.tokens.Unsubscribe(c.Request.Context(), usr, req.Token); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

// PUT /v1/notes/:id/reminder
func (h *Handler) PutReminder(c *gin.Context) {
	usr := userOf(c)

	var req reminderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	spec, err := specOf(model.NoteID(c.Param("id")), usr, req)
	if err != nil {
		h.fail(c, err)
		return
	}

	p, err := h.policies.Upsert(c.Request.Context(), spec)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.scheduler.Arm(c.Request.Context(), p)
	c.JSON(http.StatusOK, h.respOf(p))
}

// GET /v1/notes/:id/reminder
func (h *Handler) GetReminder(c *gin.Context) {
	p, ok := h.ownPolicy(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.respOf(p))
}

// DELETE /v1/notes/:id/reminder
func (h *Handler) DeleteReminder(c *gin.Context) {
	p, ok := h.ownPolicy(c)
	if !ok {
		return
	}

	if err := h.policies.Deactivate(c.Request.Context(), p.NoteID); err != nil {
		h.fail(c, err)
		return
	}
	h.scheduler.Disarm(p.NoteID)
	c.Status(http.StatusNoContent)
}

// ownPolicy fetches the note's policy and checks the caller owns it. It writes
// the response when it returns false.
func (h *Handler) ownPolicy(c *gin.Context) (model.ReminderPolicy, bool) {
	note := model.NoteID(c.Param("id"))

	p, ok, err := h.policies.Get(c.Request.Context(), note)
	if err != nil {
		h.fail(c, err)
		return p, false
	}
	if !ok {
		if c.Request.Method == http.MethodDelete {
			c.Status(http.StatusNoContent)
		} else {
			c.JSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
		}
		return p, false
	}
	if p.Owner != userOf(c) {
		h.fail(c, errors.Wrap(model.ErrForbidden, "note belongs to another user"))
		return p, false
	}
	return p, true
}

func specOf(note model.NoteID, usr model.UserID, req reminderReq) (policy.Spec, error) {
	cadence, err := model.ParseCadence(req.Cadence)
	if err != nil {
		return policy.Spec{}, err
	}
	spec := policy.Spec{
		NoteID:   note,
		Owner:    usr,
		Cadence:  cadence,
		TimeZone: req.TimeZone,
	}
	if req.Time != "" {
		at, err := model.ParseTimeOfDay(req.Time)
		if err != nil {
			return policy.Spec{}, err
		}
		spec.At = &at
	}
	if req.Anchor != nil {
		spec.Anchor = *req.Anchor
	}
	if req.EndAt != nil {
		spec.EndAt = *req.EndAt
	}
	return spec, nil
}

func (h *Handler) respOf(p model.ReminderPolicy) reminderResp {
	st, next := h.scheduler.State(p.NoteID)
	resp := reminderResp{
		ID:       p.ID.String(),
		NoteID:   string(p.NoteID),
		Cadence:  p.Cadence.String(),
		TimeZone: p.TimeZone,
		Anchor:   p.Anchor,
		Active:   p.Active,
		State:    st.String(),
	}
	if p.Cadence == model.CadenceDaily {
		resp.Time = p.At.String()
	}
	if !p.EndAt.IsZero() {
		end := p.EndAt
		resp.EndAt = &end
	}
	if !next.IsZero() {
		resp.NextFireAt = &next
	}
	return resp
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidPolicy), errors.Is(err, model.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, model.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Errorw("request failed", "path", c.FullPath(), "usr", string(userOf(c)), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
