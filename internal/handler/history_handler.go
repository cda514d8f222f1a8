package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// HistoryServiceInterface は閲覧履歴ハンドラーが必要とするサービスインターフェース。
type HistoryServiceInterface interface {
	AddEntry(ctx context.Context, userID string, article model.Article) *writer.Task
	GetHistory(ctx context.Context, userID string) []model.Article
}

// HistoryHandler は閲覧履歴のHTTPハンドラー。
type HistoryHandler struct {
	service HistoryServiceInterface
	now     func() time.Time
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(service HistoryServiceInterface) *HistoryHandler {
	return &HistoryHandler{service: service, now: time.Now}
}

type historyListResponse struct {
	Articles []model.Article `json:"articles"`
}

// ListHistory は最新の閲覧履歴を返す。
// GET /api/history
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, historyListResponse{
		Articles: h.service.GetHistory(r.Context(), userID),
	})
}

// RecordVisit は記事の閲覧を記録する。完了を待たずに202を返す。
// URLが空の記事は記録せず204を返す。
// POST /api/history
func (h *HistoryHandler) RecordVisit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var article model.Article
	if !decodeJSON(w, r, &article) {
		return
	}
	if strings.TrimSpace(article.URL) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	task := h.service.AddEntry(r.Context(), userID, article)
	if err := rejected(task); err != nil {
		handleServiceError(w, err)
		return
	}

	article.ReadAt = h.now().UTC().Format(time.RFC3339Nano)
	writeJSON(w, http.StatusAccepted, article)
}
