// Package notify は書き込み失敗イベントをユーザー向けの通知に変換する。
package notify

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/newsdesk/internal/events"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
)

// DefaultMaxPerUser はユーザーごとに保持する通知の上限。
const DefaultMaxPerUser = 20

// Notice はユーザーに表示する1件の通知。
type Notice struct {
	Kind        string    `json:"kind"`
	Op          string    `json:"op"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Subscriber はイベント種別ごとの購読を提供するインターフェース。
// *events.Busが満たす。
type Subscriber interface {
	Subscribe(kind events.Kind, h events.Handler) (unsubscribe func())
}

// Inbox は報告チャネルの購読者。
// イベントをログと指標に記録し、ユーザーごとの通知キューに積む。
type Inbox struct {
	mu         sync.Mutex
	pending    map[string][]Notice
	maxPerUser int

	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewInbox はInboxを生成する。maxPerUserが0以下の場合はDefaultMaxPerUserを使う。
func NewInbox(maxPerUser int, collector metrics.MetricsCollector, logger *slog.Logger) *Inbox {
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxPerUser
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		pending:    make(map[string][]Notice),
		maxPerUser: maxPerUser,
		metrics:    collector,
		logger:     logger,
	}
}

// Attach はInboxをすべての種別のイベントに購読させ、購読解除関数を返す。
func (in *Inbox) Attach(sub Subscriber) (detach func()) {
	return sub.Subscribe(events.KindAll, in.Handle)
}

// Handle は1件のイベントを処理する。
func (in *Inbox) Handle(e events.Event) {
	in.metrics.RecordWriteError(string(e.Kind), string(e.Op))

	userID := UserIDFromPath(e.Path)
	in.logger.Error("書き込みエラーを受信しました",
		slog.String("kind", string(e.Kind)),
		slog.String("op", string(e.Op)),
		slog.String("path", e.Path),
		slog.String("user_id", userID),
		slog.Any("error", e.Err),
	)
	if userID == "" {
		return
	}

	title, desc := describe(e.Kind)
	n := Notice{
		Kind:        string(e.Kind),
		Op:          string(e.Op),
		Path:        e.Path,
		Title:       title,
		Description: desc,
		OccurredAt:  e.OccurredAt,
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	queue := append(in.pending[userID], n)
	if len(queue) > in.maxPerUser {
		// 古いものから捨てる
		queue = append([]Notice(nil), queue[len(queue)-in.maxPerUser:]...)
	}
	in.pending[userID] = queue
}

// Drain はユーザーの未読通知を古い順に返し、キューを空にする。
func (in *Inbox) Drain(userID string) []Notice {
	in.mu.Lock()
	defer in.mu.Unlock()

	queue := in.pending[userID]
	delete(in.pending, userID)
	if queue == nil {
		return []Notice{}
	}
	return queue
}

// UserIDFromPath は "users/{id}" または "users/{id}/..." からユーザーIDを取り出す。
func UserIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "users/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}

func describe(kind events.Kind) (title, description string) {
	if kind == model.WriteErrorPermission {
		return "保存できませんでした", "変更を保存する権限がありません。再度ログインしてからお試しください。"
	}
	return "保存に失敗しました", "変更を保存できませんでした。しばらく待ってから再度お試しください。"
}
