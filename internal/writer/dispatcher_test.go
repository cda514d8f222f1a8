package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/newsdesk/internal/events"
	"github.com/hitoshi/newsdesk/internal/model"
)

// recordingEmitter は発行されたイベントを記録するテスト用Emitter。
type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *recordingEmitter) {
	t.Helper()
	emitter := &recordingEmitter{}
	d := NewDispatcher(cfg, emitter, nil, nil)
	t.Cleanup(func() { d.Close(context.Background()) })
	return d, emitter
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	select {
	case <-task.Done():
		return task.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("Taskが完了しない")
		return nil
	}
}

func TestDispatcher_Submit_Success(t *testing.T) {
	d, emitter := newTestDispatcher(t, Config{})

	called := false
	task := d.Submit("users/u1", model.WriteOpUpdate, nil, func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := waitTask(t, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("WriteFuncが呼ばれていない")
	}
	if len(emitter.snapshot()) != 0 {
		t.Error("成功時にイベントが発行された")
	}
}

// 同じドキュメントへの書き込みは発行順に適用される
func TestDispatcher_Submit_SamePathRunsInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, Config{Shards: 4})

	var mu sync.Mutex
	var order []int
	var tasks []*Task

	for i := 0; i < 100; i++ {
		i := i
		tasks = append(tasks, d.Submit("users/u1", model.WriteOpUpdate, nil, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, task := range tasks {
		waitTask(t, task)
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, 発行順に適用されていない", i, v)
		}
	}
}

func TestDispatcher_Submit_FailureEmitsOneEvent(t *testing.T) {
	d, emitter := newTestDispatcher(t, Config{})

	cause := errors.New("connection reset")
	payload := map[string]any{"preferences": []string{"sports"}}
	task := d.Submit("users/u1", model.WriteOpUpdate, payload, func(ctx context.Context) error {
		return cause
	})

	err := waitTask(t, task)
	var werr *model.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("err = %v, want *model.WriteError", err)
	}
	if werr.Kind != model.WriteErrorGeneric {
		t.Errorf("Kind = %q, want write-error", werr.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("元のエラーを保持していない")
	}

	got := emitter.snapshot()
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Path != "users/u1" || got[0].Op != model.WriteOpUpdate {
		t.Errorf("unexpected event: %+v", got[0])
	}
	if got[0].Payload["preferences"] == nil {
		t.Errorf("Payloadが含まれていない: %+v", got[0].Payload)
	}
}

func TestDispatcher_Submit_PermissionDenied(t *testing.T) {
	d, emitter := newTestDispatcher(t, Config{})

	task := d.Submit("users/u1/readingHistory/k", model.WriteOpWrite, nil, func(ctx context.Context) error {
		return &pq.Error{Code: "42501", Message: "permission denied"}
	})
	waitTask(t, task)

	got := emitter.snapshot()
	if len(got) != 1 || got[0].Kind != events.KindPermission {
		t.Fatalf("events = %+v, want one permission-error", got)
	}
}

func TestDispatcher_Submit_RecoversPanic(t *testing.T) {
	d, emitter := newTestDispatcher(t, Config{})

	task := d.Submit("users/u1", model.WriteOpCreate, nil, func(ctx context.Context) error {
		panic("boom")
	})

	if err := waitTask(t, task); err == nil {
		t.Fatal("panicはエラーとして扱われるべき")
	}
	if len(emitter.snapshot()) != 1 {
		t.Error("panic時にイベントが発行されていない")
	}
}

func TestDispatcher_Submit_Timeout(t *testing.T) {
	d, emitter := newTestDispatcher(t, Config{Timeout: 20 * time.Millisecond})

	task := d.Submit("users/u1", model.WriteOpUpdate, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := waitTask(t, task)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	got := emitter.snapshot()
	if len(got) != 1 || got[0].Kind != events.KindWrite {
		t.Errorf("events = %+v, want one write-error", got)
	}
}

func TestDispatcher_Close_DrainsQueue(t *testing.T) {
	emitter := &recordingEmitter{}
	d := NewDispatcher(Config{Shards: 2, QueueSize: 64}, emitter, nil, nil)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 50; i++ {
		d.Submit("users/u1", model.WriteOpUpdate, nil, func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}
}

func TestDispatcher_Submit_QueueFull_DoesNotBlock(t *testing.T) {
	d, emitter := newTestDispatcher(t, Config{Shards: 1, QueueSize: 1})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	slow := func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	// 1件目がワーカーで実行中、2件目が待ち行列を埋める
	running := d.Submit("users/u1", model.WriteOpUpdate, nil, slow)
	<-started
	queued := d.Submit("users/u1", model.WriteOpUpdate, nil, slow)

	returned := make(chan *Task, 1)
	go func() {
		returned <- d.Submit("users/u1", model.WriteOpUpdate, map[string]any{"age": 30}, func(ctx context.Context) error {
			t.Error("待ち行列があふれた書き込みが実行された")
			return nil
		})
	}()

	var overflow *Task
	select {
	case overflow = <-returned:
	case <-time.After(time.Second):
		t.Fatal("待ち行列が満杯のときSubmitが呼び出し元をブロックした")
	}

	err := waitTask(t, overflow)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	var werr *model.WriteError
	if !errors.As(err, &werr) || werr.Path != "users/u1" || werr.Payload["age"] != 30 {
		t.Errorf("WriteError = %+v", werr)
	}

	got := emitter.snapshot()
	if len(got) != 1 || got[0].Kind != events.KindWrite || got[0].Path != "users/u1" {
		t.Errorf("events = %+v, want one write-error for users/u1", got)
	}

	for _, task := range []*Task{running, queued} {
		select {
		case <-task.Done():
			t.Error("受け付け済みの書き込みが完了前に終了した")
		default:
		}
	}
}

func TestDispatcher_Close_HonorsContextWhileQueueFull(t *testing.T) {
	emitter := &recordingEmitter{}
	d := NewDispatcher(Config{Shards: 1, QueueSize: 1}, emitter, nil, nil)

	release := make(chan struct{})
	defer close(release)
	slow := func(ctx context.Context) error {
		<-release
		return nil
	}
	for i := 0; i < 3; i++ {
		d.Submit("users/u1", model.WriteOpUpdate, nil, slow)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Close(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want DeadlineExceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Closeがctxの期限を守らなかった")
	}
}

func TestDispatcher_Submit_AfterClose(t *testing.T) {
	emitter := &recordingEmitter{}
	d := NewDispatcher(Config{}, emitter, nil, nil)
	d.Close(context.Background())

	task := d.Submit("users/u1", model.WriteOpUpdate, nil, func(ctx context.Context) error {
		t.Error("Close後にWriteFuncが呼ばれた")
		return nil
	})

	if err := waitTask(t, task); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if len(emitter.snapshot()) != 1 {
		t.Error("Close後の書き込み失敗が報告されていない")
	}
}

func TestTask_CompletedAndFailed(t *testing.T) {
	if err := Completed().Err(); err != nil {
		t.Errorf("Completed().Err() = %v", err)
	}

	cause := errors.New("invalid")
	task := Failed(cause)
	select {
	case <-task.Done():
	default:
		t.Fatal("Failed()のTaskは完了済みであるべき")
	}
	if !errors.Is(task.Err(), cause) {
		t.Errorf("Err() = %v, want %v", task.Err(), cause)
	}
}

func TestTask_Wait_ContextCanceled(t *testing.T) {
	task := newTask()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := task.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if task.Err() != nil {
		t.Error("未完了のTaskのErrはnilであるべき")
	}
}
