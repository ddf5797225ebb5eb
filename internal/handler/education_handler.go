package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/gdmcare/internal/education"
	"github.com/hitoshi/gdmcare/internal/middleware"
	"github.com/hitoshi/gdmcare/internal/model"
)

// ReadingSource は参考記事の取得元インターフェース。
type ReadingSource interface {
	Items(ctx context.Context) ([]education.Reading, error)
}

// EducationHandler は学習モジュールと参考記事のHTTPハンドラー。
type EducationHandler struct {
	reading ReadingSource
}

// NewEducationHandler はEducationHandlerを生成する。readingがnilの場合、参考記事は常に空。
func NewEducationHandler(reading ReadingSource) *EducationHandler {
	return &EducationHandler{reading: reading}
}

type modulesResponse struct {
	Modules    []education.Module `json:"modules"`
	Categories []string           `json:"categories"`
}

type readingResponse struct {
	Items []education.Reading `json:"items"`
}

// Modules は学習モジュールの一覧を返す。categoryクエリで絞り込める。
// GET /api/education/modules
func (h *EducationHandler) Modules(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	modules, err := education.Modules(category)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCategoryError(category))
		return
	}

	writeJSON(w, http.StatusOK, modulesResponse{
		Modules:    modules,
		Categories: education.Categories(),
	})
}

// Reading は外部フィードから取得した参考記事を返す。
// GET /api/education/reading
func (h *EducationHandler) Reading(w http.ResponseWriter, r *http.Request) {
	if h.reading == nil {
		writeJSON(w, http.StatusOK, readingResponse{Items: []education.Reading{}})
		return
	}

	items, err := h.reading.Items(r.Context())
	if err != nil {
		if errors.Is(err, education.ErrReadingUnavailable) {
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewReadingUnavailableError())
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, readingResponse{Items: items})
}
