package model

// Article はコンテンツAPIから取得した記事を表す。
type Article struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	URLToImage  string        `json:"urlToImage"`
	PublishedAt string        `json:"publishedAt"`
	Source      ArticleSource `json:"source"`
	ReadAt      string        `json:"readAt,omitempty"`
}

// ArticleSource は記事の配信元を表す。
type ArticleSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Video はニュースチャンネルの動画を表す。
type Video struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
	ThumbnailURL string `json:"thumbnailUrl"`
}
