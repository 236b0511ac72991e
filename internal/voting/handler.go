package voting

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zamapoll/backend/internal/apperrors"
	"github.com/zamapoll/backend/pkg/response"
)

// CreatePollRequest is the body for POST /polls.
type CreatePollRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required,min=1"`
}

// CastVoteRequest is the body for POST /polls/:id/votes.
type CastVoteRequest struct {
	OptionID int64  `json:"option_id" binding:"required,gt=0"`
	Email    string `json:"email" binding:"required"`
}

// Handler handles the write side: poll creation and the vote flow.
type Handler struct {
	workflow *Workflow
	logger   *zap.Logger
}

// NewHandler creates a voting handler.
func NewHandler(workflow *Workflow, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{workflow: workflow, logger: logger}
}

// CreatePoll handles POST /polls.
func (h *Handler) CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if !h.bind(c, &req) {
		return
	}
	p, err := h.workflow.CreatePoll(c.Request.Context(), c.ClientIP(), req.Question, req.Options)
	if err != nil {
		h.fail(c, "create poll", err)
		return
	}
	response.Created(c, p)
}

// CastVote handles POST /polls/:id/votes. The vote is only recorded once the
// emailed link is followed.
func (h *Handler) CastVote(c *gin.Context) {
	var req CastVoteRequest
	if !h.bind(c, &req) {
		return
	}
	pending, err := h.workflow.InitiateVote(c.Request.Context(), VoteRequest{
		PollID:     c.Param("id"),
		OptionID:   req.OptionID,
		Email:      req.Email,
		SourceAddr: c.ClientIP(),
	})
	if err != nil {
		h.fail(c, "initiate vote", err)
		return
	}
	response.Accepted(c, pending)
}

// Confirm handles GET /votes/confirm/:token.
func (h *Handler) Confirm(c *gin.Context) {
	v, err := h.workflow.ConfirmVote(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, "confirm vote", err)
		return
	}
	response.OK(c, gin.H{"poll_id": v.PollID, "option_id": v.OptionID, "voted_at": v.VotedAt, "confirmed": true})
}

func (h *Handler) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, response.Body{
				Error: "request body too large",
				Code:  string(apperrors.CodeValidation),
			})
			return false
		}
		response.BadRequest(c, "invalid request: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if apperrors.CodeOf(err) == apperrors.CodeInternal {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	response.Error(c, err)
}
