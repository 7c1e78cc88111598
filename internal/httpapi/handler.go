package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"irepair-admin/internal/detail"
	"irepair-admin/internal/livesync"
	"irepair-admin/internal/session"
	"irepair-admin/internal/views"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ActorHeader names the admin acting on a request; authentication happens upstream
const ActorHeader = "X-Admin-User"

// Handler serves the admin API over a session manager
type Handler struct {
	sessions     *session.Manager
	defaultActor string
	logger       *zap.Logger
}

func NewHandler(sessions *session.Manager, defaultActor string, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, defaultActor: defaultActor, logger: logger}
}

func (h *Handler) actor(c *gin.Context) string {
	if a := strings.TrimSpace(c.GetHeader(ActorHeader)); a != "" {
		return a
	}
	return h.defaultActor
}

// fail maps domain errors onto HTTP statuses
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrItemNotFound),
		errors.Is(err, views.ErrUnknownView):
		status = http.StatusNotFound
	case errors.Is(err, detail.ErrNoSelection),
		errors.Is(err, detail.ErrInvalidTransition),
		errors.Is(err, livesync.ErrClosed):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, Fail(err.Error()))
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("sid"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, Ok(gin.H{"status": "ok", "sessions": h.sessions.Len()}))
}

func (h *Handler) ListViews(c *gin.Context) {
	defs := views.All()
	out := make([]viewDTO, len(defs))
	for i, def := range defs {
		out[i] = toViewDTO(def)
	}
	c.JSON(http.StatusOK, Ok(out))
}

func (h *Handler) OpenSession(c *gin.Context) {
	s, err := h.sessions.Open(c.Param("view"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, Ok(sessionDTO{ID: s.ID, View: toViewDTO(s.View)}))
}

func (h *Handler) GetModel(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	term, status := c.Query("q"), c.Query("status")
	c.JSON(http.StatusOK, Ok(toModelDTO(s.Model(term, status), term, status)))
}

func (h *Handler) Retry(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Live.Retry(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Ok(toModelDTO(s.Model("", ""), "", "")))
}

func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("sid")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Ok[any](nil))
}

type selectRequest struct {
	ID string `json:"id" binding:"required"`
}

func (h *Handler) Select(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Fail("id is required"))
		return
	}
	if err := s.Select(req.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Ok(toDetailDTO(s.DetailState())))
}

func (h *Handler) Deselect(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Detail.Deselect(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Ok(toDetailDTO(s.DetailState())))
}

func (h *Handler) GetDetail(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, Ok(toDetailDTO(s.DetailState())))
}

func (h *Handler) RequestDelete(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Detail.RequestDelete(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Ok(toDetailDTO(s.DetailState())))
}

func (h *Handler) CancelDelete(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Detail.Cancel(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Ok(toDetailDTO(s.DetailState())))
}

// ConfirmDelete issues the soft-delete. A failed write is not an HTTP
// error: the detail comes back with the selection kept and the error set.
func (h *Handler) ConfirmDelete(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	err := s.Detail.Confirm(c.Request.Context(), h.actor(c))
	if errors.Is(err, detail.ErrNoSelection) || errors.Is(err, detail.ErrInvalidTransition) {
		h.fail(c, err)
		return
	}
	dto := toDetailDTO(s.DetailState())
	if err != nil {
		c.JSON(http.StatusOK, Result[detailDTO]{Code: ResultError, Type: "error", Message: err.Error(), Result: dto})
		return
	}
	c.JSON(http.StatusOK, Ok(dto))
}

func (h *Handler) Export(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	data, err := GenerateViewExport(s.View, s.Model(c.Query("q"), c.Query("status")).Items)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+s.View.Name+`.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
