package courses

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aula-lms/aula-lms/internal/authz"
	"github.com/aula-lms/aula-lms/internal/platform/httpx"
	"github.com/aula-lms/aula-lms/internal/shared"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// Handler manages course catalogue endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     authz.Middleware
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: gate, validate: validator.New()}
}

// MountRoutes registers course routes. Create, edit and delete carry their
// own narrow permissions; courses.manage satisfies all of them through the
// hierarchy.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/courses", func(r chi.Router) {
		r.With(h.gate.Require(shared.PermCoursesView)).Get("/", h.listCourses)
		r.With(h.gate.Require(shared.PermCoursesView)).Get("/{courseID}", h.getCourse)
		r.With(h.gate.Require(shared.PermCoursesCreate)).Post("/", h.createCourse)
		r.With(h.gate.Require(shared.PermCoursesEdit)).Put("/{courseID}", h.updateCourse)
		r.With(h.gate.Require(shared.PermCoursesDelete)).Delete("/{courseID}", h.deleteCourse)
	})
}

type courseRequest struct {
	Code        string `json:"code" validate:"required,min=2,max=20"`
	Title       string `json:"title" validate:"required,min=2,max=200"`
	Description string `json:"description" validate:"max=2000"`
	IsPublished bool   `json:"is_published"`
}

func (h *Handler) listCourses(w http.ResponseWriter, r *http.Request) {
	page, perPage := shared.PageFromRequest(r, defaultPageSize, maxPageSize)
	offset := shared.NewPagination(page, perPage, 0).Offset()
	list, total, err := h.service.ListCourses(r.Context(), perPage, offset)
	if err != nil {
		h.logger.Error("list courses", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if list == nil {
		list = []Course{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"courses":    list,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathCourseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid course id")
		return
	}
	course, err := h.service.GetCourse(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, course)
}

func (h *Handler) createCourse(w http.ResponseWriter, r *http.Request) {
	instructorID, ok := shared.CurrentUserID(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req courseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid course")
		return
	}
	course, err := h.service.CreateCourse(r.Context(), Course{
		Code:         req.Code,
		Title:        req.Title,
		Description:  req.Description,
		InstructorID: instructorID,
		IsPublished:  req.IsPublished,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, course)
}

func (h *Handler) updateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathCourseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid course id")
		return
	}
	var req courseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid course")
		return
	}
	err = h.service.UpdateCourse(r.Context(), Course{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		IsPublished: req.IsPublished,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathCourseID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid course id")
		return
	}
	if err := h.service.DeleteCourse(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func pathCourseID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "courseID"), 10, 64)
}
