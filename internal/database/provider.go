package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Opener はStoreを初期化する関数。接続のオープンと疎通確認を行う。
type Opener func(ctx context.Context) (*Store, error)

// Provider はStoreを遅延初期化し、プロセスの生存期間中同じハンドルを返し続ける。
// アプリケーションスコープで1つだけ生成し、リポジトリに参照として渡す。
// 初回の同時呼び出しでも初期化は必ず1回だけ行われる。
// 初期化に失敗した場合はそのエラーを記憶し、以降の呼び出しにも同じエラーを返す。
type Provider struct {
	open  Opener
	once  sync.Once
	store *Store
	err   error
}

// NewProvider はProviderを生成する。この時点では接続しない。
func NewProvider(open Opener) *Provider {
	return &Provider{open: open}
}

// NewURLProvider はドライバーと接続URLからProviderを生成する。
func NewURLProvider(dialect Dialect, databaseURL string) *Provider {
	return NewProvider(func(ctx context.Context) (*Store, error) {
		db, err := Open(dialect, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("driver", string(dialect)),
		)
		return NewStore(db, dialect), nil
	})
}

// Get は共有Storeを返す。初回呼び出し時のみ初期化を行う。
// 初期化は最初の呼び出し元のキャンセルに巻き込まれないよう、キャンセルを切り離したctxで実行する。
func (p *Provider) Get(ctx context.Context) (*Store, error) {
	p.once.Do(func() {
		p.store, p.err = p.open(context.WithoutCancel(ctx))
	})
	return p.store, p.err
}

// Ping はStoreを取得して疎通を確認する。ヘルスチェックで使用する。
func (p *Provider) Ping(ctx context.Context) error {
	store, err := p.Get(ctx)
	if err != nil {
		return err
	}
	return store.PingContext(ctx)
}

// Close は初期化済みのStoreを閉じる。未初期化の場合は何もしない。
func (p *Provider) Close() error {
	var closeErr error
	p.once.Do(func() {
		p.err = fmt.Errorf("database provider closed before initialization")
	})
	if p.store != nil {
		closeErr = p.store.Close()
	}
	return closeErr
}

// NewStaticProvider は生成済みのStoreをそのまま返すProviderを生成する。
// テストや、起動時に既に接続を確立している場合に使用する。
func NewStaticProvider(store *Store) *Provider {
	return NewProvider(func(ctx context.Context) (*Store, error) {
		return store, nil
	})
}
