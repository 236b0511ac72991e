package polls

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zamapoll/backend/internal/apperrors"
	"github.com/zamapoll/backend/internal/models"
	"github.com/zamapoll/backend/pkg/response"
)

// PollView is the body of GET /polls/:id.
type PollView struct {
	models.PollWithOptions
	Votable bool `json:"votable"`
}

// Handler serves the read side of polls.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.store.GetPollWithOptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, PollView{PollWithOptions: *p, Votable: Votable(&p.Poll, h.store.Now())})
}

// Results handles GET /polls/:id/results.
func (h *Handler) Results(c *gin.Context) {
	res, err := h.store.Tally(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, res)
}

func (h *Handler) fail(c *gin.Context, err error) {
	if apperrors.CodeOf(err) == apperrors.CodeInternal {
		h.logger.Error("poll lookup failed", zap.String("poll_id", c.Param("id")), zap.Error(err))
	}
	response.Error(c, err)
}
