package handler

import (
	"net/http"

	"github.com/hitoshi/newsdesk/internal/notify"
)

// NotificationDrainer はユーザーの未読通知を取り出すインターフェース。
// *notify.Inboxが満たす。
type NotificationDrainer interface {
	Drain(userID string) []notify.Notice
}

// NotificationHandler は書き込み失敗通知のHTTPハンドラー。
type NotificationHandler struct {
	inbox NotificationDrainer
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(inbox NotificationDrainer) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

type notificationsResponse struct {
	Notifications []notify.Notice `json:"notifications"`
}

// Drain はログインユーザーの未読通知を返し、既読にする。
// GET /api/notifications
func (h *NotificationHandler) Drain(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, notificationsResponse{
		Notifications: h.inbox.Drain(userID),
	})
}
