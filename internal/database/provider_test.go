package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// TestProvider_Get_SingleInitialization は初回の同時呼び出しでも初期化が1回だけ行われ、
// 全呼び出し元が同じハンドルを受け取ることを検証する。
func TestProvider_Get_SingleInitialization(t *testing.T) {
	var opens atomic.Int32
	release := make(chan struct{})

	p := NewProvider(func(ctx context.Context) (*Store, error) {
		opens.Add(1)
		<-release
		db, err := Open(DialectSQLite, ":memory:")
		if err != nil {
			return nil, err
		}
		return NewStore(db, DialectSQLite), nil
	})
	t.Cleanup(func() { p.Close() })

	const callers = 32
	results := make([]*Store, callers)
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			s, err := p.Get(context.Background())
			if err != nil {
				t.Errorf("Get returned error: %v", err)
				return
			}
			results[i] = s
		}(i)
	}

	started.Wait()
	close(release)
	wg.Wait()

	if got := opens.Load(); got != 1 {
		t.Errorf("初期化回数 = %d, want 1", got)
	}
	for i, s := range results {
		if s == nil || s != results[0] {
			t.Fatalf("results[%d] は同一のハンドルであるべき", i)
		}
	}

	// 初期化後の呼び出しも同じハンドルを返す
	again, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if again != results[0] {
		t.Error("2回目以降のGetは同じハンドルを返すべき")
	}
}

func TestProvider_Get_RemembersInitError(t *testing.T) {
	var opens atomic.Int32
	initErr := errors.New("connection refused")

	p := NewProvider(func(ctx context.Context) (*Store, error) {
		opens.Add(1)
		return nil, initErr
	})

	for i := 0; i < 3; i++ {
		if _, err := p.Get(context.Background()); !errors.Is(err, initErr) {
			t.Fatalf("Get error = %v, want %v", err, initErr)
		}
	}
	if got := opens.Load(); got != 1 {
		t.Errorf("初期化回数 = %d, want 1", got)
	}
}

func TestProvider_Get_IgnoresCallerCancellation(t *testing.T) {
	p := NewProvider(func(ctx context.Context) (*Store, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		db, err := Open(DialectSQLite, ":memory:")
		if err != nil {
			return nil, err
		}
		return NewStore(db, DialectSQLite), nil
	})
	t.Cleanup(func() { p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Get(ctx); err != nil {
		t.Fatalf("キャンセル済みctxでも初期化は成功するべき: %v", err)
	}
}

func TestProvider_Close_BeforeInit(t *testing.T) {
	var opens atomic.Int32
	p := NewProvider(func(ctx context.Context) (*Store, error) {
		opens.Add(1)
		return nil, nil
	})

	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := p.Get(context.Background()); err == nil {
		t.Error("Close後のGetはエラーを返すべき")
	}
	if opens.Load() != 0 {
		t.Error("Close後に初期化が実行されてはならない")
	}
}

func TestProvider_Ping(t *testing.T) {
	db, err := Open(DialectSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := NewStaticProvider(NewStore(db, DialectSQLite))
	t.Cleanup(func() { p.Close() })

	if err := p.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	failing := NewProvider(func(ctx context.Context) (*Store, error) {
		return nil, errors.New("unreachable")
	})
	if err := failing.Ping(context.Background()); err == nil {
		t.Error("初期化に失敗したProviderのPingはエラーを返すべき")
	}
}
