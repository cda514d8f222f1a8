package model

import "fmt"

// WriteErrorKind は書き込み失敗イベントの種別を表す。
type WriteErrorKind string

const (
	// WriteErrorPermission はストアが権限不足で書き込みを拒否したことを示す。
	WriteErrorPermission WriteErrorKind = "permission-error"
	// WriteErrorGeneric は権限以外の理由（通信断、タイムアウト等）による失敗を示す。
	WriteErrorGeneric WriteErrorKind = "write-error"
)

// WriteOp は試行された書き込み操作の種類を表す。
type WriteOp string

const (
	WriteOpCreate WriteOp = "create"
	WriteOpUpdate WriteOp = "update"
	WriteOpWrite  WriteOp = "write"
)

// WriteError はノンブロッキング書き込みの失敗を表す。永続化はしない。
// 対象パス、操作種別、拒否されたペイロードを診断用に保持する。
type WriteError struct {
	Kind    WriteErrorKind
	Op      WriteOp
	Path    string
	Payload map[string]any
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *WriteError) Unwrap() error {
	return e.Err
}
