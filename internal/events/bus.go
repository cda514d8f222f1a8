// Package events は書き込みエラーの報告チャネルを提供する。
//
// 書き込みはノンブロッキングで発行されるため、失敗は呼び出し元に返らない。
// 失敗はイベントとしてBusに流し、購読者（通知受信箱、ログ等）が受け取る。
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// Kind はイベントの種別を表す。
type Kind = model.WriteErrorKind

const (
	// KindPermission は権限不足による書き込み拒否。
	KindPermission = model.WriteErrorPermission
	// KindWrite は権限以外の理由による書き込み失敗。
	KindWrite = model.WriteErrorGeneric
	// KindAll はすべての種別を購読する。
	KindAll Kind = "*"
)

// Event は報告チャネルに流れる1件の書き込み失敗。
type Event struct {
	Kind       Kind
	Op         model.WriteOp
	Path       string
	Payload    map[string]any
	Err        error
	OccurredAt time.Time
}

// NewEvent はWriteErrorからイベントを生成する。
func NewEvent(werr *model.WriteError, at time.Time) Event {
	return Event{
		Kind:       werr.Kind,
		Op:         werr.Op,
		Path:       werr.Path,
		Payload:    werr.Payload,
		Err:        werr.Err,
		OccurredAt: at,
	}
}

// Handler はイベントを受け取る関数。
type Handler func(Event)

// Emitter はイベントを発行するインターフェース。
type Emitter interface {
	Emit(Event)
}

type subscription struct {
	id      uint64
	kind    Kind
	handler Handler
}

// Bus はプロセス内のpub/subチャネル。
// ハンドラーは発行元のgoroutine上で発行順に同期的に呼び出される。
// 購読者がいなくてもEmitはブロックも失敗もしない。
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger
}

// NewBus はBusを生成する。
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe はkindのイベントを購読し、購読解除関数を返す。
// 購読解除関数は複数回呼んでも安全。
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			// 発行中のスナップショットを壊さないよう新しいスライスを作る
			subs := make([]subscription, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			subs = append(subs, b.subs[i+1:]...)
			b.subs = subs
			return
		}
	}
}

// Emit はイベントを該当する購読者全員に配信する。
func (b *Bus) Emit(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kind != KindAll && s.kind != e.Kind {
			continue
		}
		b.deliver(s.handler, e)
	}
}

// deliver はハンドラーのpanicを回収し、他の購読者への配信を続ける。
func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("kind", string(e.Kind)),
				slog.String("path", e.Path),
				slog.Any("panic", r),
			)
		}
	}()
	h(e)
}

var _ Emitter = (*Bus)(nil)
