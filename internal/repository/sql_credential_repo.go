package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/newsdesk/internal/model"
)

// SQLCredentialRepo はSQLデータベースを使用したログイン情報リポジトリ。
type SQLCredentialRepo struct {
	stores StoreProvider
}

// NewSQLCredentialRepo はSQLCredentialRepoを生成する。
func NewSQLCredentialRepo(stores StoreProvider) *SQLCredentialRepo {
	return &SQLCredentialRepo{stores: stores}
}

// Create はログイン情報を作成する。メールアドレスが登録済みの場合はErrDuplicateを返す。
func (r *SQLCredentialRepo) Create(ctx context.Context, c *model.Credential) error {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return err
	}

	_, err = store.ExecContext(ctx,
		`INSERT INTO credentials (user_id, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		c.UserID, c.Email, c.PasswordHash, c.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// FindByEmail はメールアドレスでログイン情報を検索する。見つからない場合はnilを返す。
func (r *SQLCredentialRepo) FindByEmail(ctx context.Context, email string) (*model.Credential, error) {
	store, err := r.stores.Get(ctx)
	if err != nil {
		return nil, err
	}

	c := &model.Credential{}
	err = store.QueryRowContext(ctx,
		`SELECT user_id, email, password_hash, created_at
		 FROM credentials WHERE email = $1`,
		email,
	).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by email: %w", err)
	}
	return c, nil
}

// compile-time interface check
var _ CredentialRepository = (*SQLCredentialRepo)(nil)
