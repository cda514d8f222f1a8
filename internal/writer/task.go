package writer

import (
	"context"
	"sync"
)

// Task はノンブロッキング書き込みの完了を表すフューチャー。
// 呼び出し元は待たずに捨ててもよい。失敗は報告チャネルにも流れる。
type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Completed は成功済みのTaskを返す。
func Completed() *Task {
	t := newTask()
	t.finish(nil)
	return t
}

// Failed はerrで失敗済みのTaskを返す。
func Failed(err error) *Task {
	t := newTask()
	t.finish(err)
	return t
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done は書き込み完了時にクローズされるチャネルを返す。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err は完了後の結果を返す。未完了の場合はnil。
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait は書き込みの完了かctxのキャンセルまで待つ。
// ctxのキャンセルは書き込み自体を取り消さない。
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
