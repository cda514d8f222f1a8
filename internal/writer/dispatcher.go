// Package writer はストアへのノンブロッキング書き込みを実行する。
//
// 書き込みはドキュメントパスのハッシュでシャードに振り分けられ、
// 同じドキュメントへの書き込みは発行順に適用される。
// 失敗は*model.WriteErrorに包まれ、報告チャネルにちょうど1件流れる。
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hitoshi/newsdesk/internal/events"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

var (
	// ErrClosed はClose後に書き込みが発行されたことを示す。
	ErrClosed = errors.New("write dispatcher is closed")
	// ErrQueueFull はシャードの待ち行列が満杯で書き込みを受け付けられなかったことを示す。
	ErrQueueFull = errors.New("write queue is full")
)

// WriteFunc はストアへの書き込みを1回行う関数。
type WriteFunc func(ctx context.Context) error

// Submitter は書き込みを発行するインターフェース。
// サービス層はこのインターフェースに依存する。
type Submitter interface {
	Submit(path string, op model.WriteOp, payload map[string]any, fn WriteFunc) *Task
}

// Config はDispatcherの設定。
type Config struct {
	Shards    int           // 同時に実行できる書き込みの数（デフォルト: 8）
	QueueSize int           // シャードごとの待ち行列の長さ（デフォルト: 256）
	Timeout   time.Duration // 1件あたりのタイムアウト。0なら無制限
}

type job struct {
	path    string
	op      model.WriteOp
	payload map[string]any
	fn      WriteFunc
	task    *Task
}

// Dispatcher はシャード化されたワーカーで書き込みを実行する。
type Dispatcher struct {
	shards  []chan job
	timeout time.Duration
	bus     events.Emitter
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	// isPermissionDenied は失敗を権限エラーとして分類するかを判定する。
	isPermissionDenied func(error) bool
	now                func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher はDispatcherを生成し、シャードのワーカーを起動する。
func NewDispatcher(cfg Config, bus events.Emitter, collector metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	if cfg.Shards <= 0 {
		cfg.Shards = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		shards:             make([]chan job, cfg.Shards),
		timeout:            cfg.Timeout,
		bus:                bus,
		metrics:            collector,
		logger:             logger,
		isPermissionDenied: repository.IsPermissionDenied,
		now:                time.Now,
	}

	for i := range d.shards {
		ch := make(chan job, cfg.QueueSize)
		d.shards[i] = ch
		d.wg.Add(1)
		go d.work(ch)
	}

	return d
}

// Submit は書き込みを待ち行列に入れ、すぐにTaskを返す。
// エラーを返すこともpanicすることもない。
// 待ち行列が満杯の場合は待たずにErrQueueFullで失敗させる。
func (d *Dispatcher) Submit(path string, op model.WriteOp, payload map[string]any, fn WriteFunc) *Task {
	j := job{path: path, op: op, payload: payload, fn: fn, task: newTask()}

	if err := d.enqueue(j); err != nil {
		d.fail(j, err)
	}
	return j.task
}

// enqueue はブロックせずにjobをシャードへ送る。
// 送信中にチャネルが閉じられないよう、読み取りロックの中で送る。
func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	select {
	case d.shards[d.shardFor(j.path)] <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) shardFor(path string) int {
	return int(xxhash.Sum64String(path) % uint64(len(d.shards)))
}

func (d *Dispatcher) work(ch <-chan job) {
	defer d.wg.Done()
	for j := range ch {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := d.now()
	err := d.call(ctx, j.fn)
	d.metrics.RecordWrite(string(j.op), err, d.now().Sub(start))

	if err != nil {
		d.fail(j, err)
		return
	}
	j.task.finish(nil)
}

// call はWriteFuncのpanicをエラーに変換する。
func (d *Dispatcher) call(ctx context.Context, fn WriteFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("write panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// fail は失敗を分類し、ログと報告チャネルに1回だけ流してからTaskを完了させる。
func (d *Dispatcher) fail(j job, err error) {
	kind := model.WriteErrorGeneric
	if d.isPermissionDenied(err) {
		kind = model.WriteErrorPermission
	}

	werr := &model.WriteError{
		Kind:    kind,
		Op:      j.op,
		Path:    j.path,
		Payload: j.payload,
		Err:     err,
	}

	d.logger.Warn("書き込みに失敗しました",
		slog.String("kind", string(kind)),
		slog.String("op", string(j.op)),
		slog.String("path", j.path),
		slog.String("error", err.Error()),
	)

	if d.bus != nil {
		d.bus.Emit(events.NewEvent(werr, d.now()))
	}
	j.task.finish(werr)
}

// Close は新規の受け付けを止め、待ち行列に残った書き込みを実行し終えるまで待つ。
// ctxが先に終了した場合はctx.Err()を返す。残りの書き込みはバックグラウンドで続行される。
// 2回目以降の呼び出しも残りの書き込みの完了を待つ。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.shards {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("書き込みディスパッチャーを停止しました")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Submitter = (*Dispatcher)(nil)
