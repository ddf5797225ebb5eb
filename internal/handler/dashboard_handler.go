package handler

import (
	"net/http"

	"github.com/hitoshi/gdmcare/internal/dashboard"
	"github.com/hitoshi/gdmcare/internal/middleware"
	"github.com/hitoshi/gdmcare/internal/model"
)

// DashboardHandler はロール別ダッシュボードのHTTPハンドラー。
// サンプルデータはリクエストごとに組み立てる。
type DashboardHandler struct {
	newStore func() *dashboard.Store
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler() *DashboardHandler {
	return &DashboardHandler{newStore: dashboard.NewStore}
}

type patientsResponse struct {
	Patients []dashboard.Patient `json:"patients"`
	Total    int                 `json:"total"`
}

type suggestionsResponse struct {
	Suggestions []dashboard.Suggestion `json:"suggestions"`
}

// Overview はログイン中のロールに応じたダッシュボードを返す。
// GET /api/dashboard
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.newStore().Overview(principalRole(r)))
}

// Patients は担当患者を検索する。医師と看護師のみ。
// GET /api/patients?q=
func (h *DashboardHandler) Patients(w http.ResponseWriter, r *http.Request) {
	patients := h.newStore().SearchPatients(r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, patientsResponse{Patients: patients, Total: len(patients)})
}

// Suggestions は患者宛ての提案を返す。pending=trueで未確認のみ。
// GET /api/suggestions
func (h *DashboardHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("pending") == "true"
	writeJSON(w, http.StatusOK, suggestionsResponse{
		Suggestions: h.newStore().Suggestions(pendingOnly),
	})
}

func principalRole(r *http.Request) model.Role {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.Role
	}
	return model.DefaultRole
}
