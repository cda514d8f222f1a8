package content

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/newsdesk/internal/model"
)

const (
	// DefaultNewsBaseURL はNewsAPIの既定のベースURL。
	DefaultNewsBaseURL = "https://newsapi.org/v2"
	// DefaultCountry はトップニュースの既定の国コード。
	DefaultCountry = "in"
	// newsPageSize は1リクエストあたりの記事数。
	newsPageSize = 20
	// removedTitle はNewsAPIが削除済み記事に付けるタイトル。
	removedTitle = "[Removed]"
)

// NewsConfig はNewsClientの設定。
type NewsConfig struct {
	APIKey  string
	BaseURL string
	Country string   // トップニュースの既定の国コード
	Sources []string // トレンドに使うニュースソースID
}

// NewsClient はNewsAPIのクライアント。
type NewsClient struct {
	cfg       NewsConfig
	fetcher   fetcher
	sanitizer *TextSanitizer
}

// NewNewsClient はNewsClientを生成する。
func NewNewsClient(cfg NewsConfig, opts FetcherOptions) *NewsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNewsBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = DefaultCountry
	}
	return &NewsClient{
		cfg:       cfg,
		fetcher:   newFetcher("newsapi", opts),
		sanitizer: NewTextSanitizer(),
	}
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Articles []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source struct {
		ID   *string `json:"id"`
		Name string  `json:"name"`
	} `json:"source"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	URL         string  `json:"url"`
	URLToImage  *string `json:"urlToImage"`
	PublishedAt string  `json:"publishedAt"`
}

// TopHeadlines は国別のトップニュースを返す。countryが空の場合は既定の国。
func (c *NewsClient) TopHeadlines(ctx context.Context, country string) []model.Article {
	if country == "" {
		country = c.cfg.Country
	}
	return c.fetch(ctx, "top-headlines", url.Values{
		"country":  {strings.ToLower(country)},
		"pageSize": {strconv.Itoa(newsPageSize)},
	})
}

// Trending は設定されたニュースソースのトップニュースを返す。
func (c *NewsClient) Trending(ctx context.Context) []model.Article {
	if len(c.cfg.Sources) == 0 {
		return c.TopHeadlines(ctx, "")
	}
	return c.fetch(ctx, "top-headlines", url.Values{
		"sources":  {strings.Join(c.cfg.Sources, ",")},
		"pageSize": {strconv.Itoa(newsPageSize)},
	})
}

// Search はキーワードで記事を検索する。空のクエリには空の結果を返す。
func (c *NewsClient) Search(ctx context.Context, query string) []model.Article {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.Article{}
	}
	return c.fetch(ctx, "everything", url.Values{
		"q":        {query},
		"language": {"en"},
		"sortBy":   {"relevancy"},
		"pageSize": {strconv.Itoa(newsPageSize)},
	})
}

// ForCategories はカテゴリのトップニュースを返す。
// NewsAPIは1リクエストで1カテゴリしか指定できないため、先頭のカテゴリのみを使う。
// カテゴリが空の場合はトップニュースを返す。
func (c *NewsClient) ForCategories(ctx context.Context, categories []string) []model.Article {
	if len(categories) == 0 {
		return c.TopHeadlines(ctx, "")
	}
	return c.fetch(ctx, "top-headlines", url.Values{
		"category": {categories[0]},
		"country":  {c.cfg.Country},
		"pageSize": {strconv.Itoa(newsPageSize)},
	})
}

func (c *NewsClient) fetch(ctx context.Context, endpoint string, params url.Values) []model.Article {
	if c.cfg.APIKey == "" {
		c.fetcher.logger.Error("NewsAPIのAPIキーが設定されていません")
		return []model.Article{}
	}

	target, err := buildURL(c.cfg.BaseURL, endpoint, params)
	if err != nil {
		c.fetcher.logger.Error("NewsAPIのURLの構築に失敗しました", slog.String("error", err.Error()))
		return []model.Article{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.fetcher.logger.Error("NewsAPIのリクエストの生成に失敗しました", slog.String("error", err.Error()))
		return []model.Article{}
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)

	var resp newsAPIResponse
	if !c.fetcher.getJSON(ctx, target, req, &resp) {
		return []model.Article{}
	}

	return c.toArticles(resp.Articles)
}

// toArticles はタイトルか画像のない記事と削除済み記事を除外し、記事の形に変換する。
func (c *NewsClient) toArticles(raw []newsAPIArticle) []model.Article {
	articles := make([]model.Article, 0, len(raw))
	for _, a := range raw {
		if a.Title == "" || a.Title == removedTitle || a.URLToImage == nil || *a.URLToImage == "" {
			continue
		}
		title := c.sanitizer.Text(a.Title)
		if title == "" {
			continue
		}

		article := model.Article{
			Title:       title,
			URL:         a.URL,
			URLToImage:  ImageURL(*a.URLToImage),
			PublishedAt: a.PublishedAt,
			Source: model.ArticleSource{
				Name: a.Source.Name,
			},
		}
		if article.URLToImage == "" {
			continue
		}
		if a.Description != nil {
			article.Description = c.sanitizer.Text(*a.Description)
		}
		if a.Source.ID != nil {
			article.Source.ID = *a.Source.ID
		}
		articles = append(articles, article)
	}
	return articles
}
