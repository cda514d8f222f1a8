package model

import "time"

// HistoryEntry はユーザーごと・記事ごとに1件だけ存在する閲覧履歴を表す。
// 記事の表示用フィールドは閲覧時点のスナップショットであり、元記事の変更には追従しない。
type HistoryEntry struct {
	UserID      string
	EntryKey    string // 記事URLから導出した決定的なキー
	ArticleURL  string
	Title       string
	Description string
	ImageURL    string
	SourceID    string
	SourceName  string
	PublishedAt string     // プロバイダーから受け取った文字列のまま保持する
	ReadAt      *time.Time // 旧データでは欠落していることがある
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ToArticle は閲覧履歴を記事表示用の形に変換する。
// readAtはUTCのRFC 3339文字列に正規化する。
func (e *HistoryEntry) ToArticle() Article {
	a := Article{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.ArticleURL,
		URLToImage:  e.ImageURL,
		PublishedAt: e.PublishedAt,
		Source: ArticleSource{
			ID:   e.SourceID,
			Name: e.SourceName,
		},
	}
	if e.ReadAt != nil {
		a.ReadAt = e.ReadAt.UTC().Format(time.RFC3339Nano)
	}
	return a
}
