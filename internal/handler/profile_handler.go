package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, userID string) *model.UserProfile
	NormalizePreferences(preferences []string) ([]string, error)
	UpdatePreferences(ctx context.Context, userID string, preferences []string) *writer.Task
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) *writer.Task
}

// ProfileHandler はプロフィール管理のHTTPハンドラー。
// 書き込みはノンブロッキングで、完了を待たずに楽観的な値を202で返す。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type profileResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Preferences []string   `json:"preferences"`
	Age         *int       `json:"age,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Age      *int    `json:"age"`
}

type updatePreferencesRequest struct {
	Preferences []string `json:"preferences"`
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	p := h.service.GetProfile(r.Context(), userID)
	if p == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// UpdateProfile は表示名と年齢のうち指定されたものだけを更新する。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	update := model.ProfileUpdate{Username: req.Username, Age: req.Age}
	task := h.service.UpdateProfile(r.Context(), userID, update)
	if err := rejected(task); err != nil {
		handleServiceError(w, err)
		return
	}

	resp := h.current(r.Context(), userID)
	if req.Username != nil {
		resp.Username = strings.TrimSpace(*req.Username)
	}
	if req.Age != nil {
		resp.Age = req.Age
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// UpdatePreferences はカテゴリの選択を置き換える。
// PUT /api/profile/preferences
func (h *ProfileHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updatePreferencesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	prefs, err := h.service.NormalizePreferences(req.Preferences)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	task := h.service.UpdatePreferences(r.Context(), userID, prefs)
	if err := rejected(task); err != nil {
		handleServiceError(w, err)
		return
	}

	resp := h.current(r.Context(), userID)
	resp.Preferences = prefs
	writeJSON(w, http.StatusAccepted, resp)
}

// current は楽観的レスポンスの土台となる現在のプロフィールを返す。
// 未作成の場合はデフォルトのpreferencesを持つプロフィールとして扱う。
func (h *ProfileHandler) current(ctx context.Context, userID string) profileResponse {
	if p := h.service.GetProfile(ctx, userID); p != nil {
		return toProfileResponse(p)
	}
	return profileResponse{
		ID:          userID,
		Preferences: slices.Clone(model.DefaultPreferences),
	}
}

func toProfileResponse(p *model.UserProfile) profileResponse {
	resp := profileResponse{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		Preferences: p.Preferences,
		Age:         p.Age,
	}
	if resp.Preferences == nil {
		resp.Preferences = []string{}
	}
	if !p.CreatedAt.IsZero() {
		t := p.CreatedAt
		resp.CreatedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		t := p.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}
