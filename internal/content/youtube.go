package content

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/newsdesk/internal/catalog"
	"github.com/hitoshi/newsdesk/internal/model"
)

const (
	// DefaultYouTubeBaseURL はYouTube Data APIの既定のベースURL。
	DefaultYouTubeBaseURL = "https://www.googleapis.com/youtube/v3"
	// videosPerChannel はチャンネルごとに取得する動画数。
	videosPerChannel = 5
	// maxParallelChannels は同時に問い合わせるチャンネル数の上限。
	maxParallelChannels = 4
	videoKind           = "youtube#video"
)

// VideoConfig はVideoClientの設定。
type VideoConfig struct {
	APIKey   string
	BaseURL  string
	Channels []catalog.Channel
}

// VideoClient はYouTube Data APIのクライアント。
type VideoClient struct {
	cfg       VideoConfig
	fetcher   fetcher
	sanitizer *TextSanitizer
	shuffle   func([]model.Video)
}

// NewVideoClient はVideoClientを生成する。
func NewVideoClient(cfg VideoConfig, opts FetcherOptions) *VideoClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultYouTubeBaseURL
	}
	return &VideoClient{
		cfg:       cfg,
		fetcher:   newFetcher("youtube", opts),
		sanitizer: NewTextSanitizer(),
		shuffle: func(v []model.Video) {
			rand.Shuffle(len(v), func(i, j int) { v[i], v[j] = v[j], v[i] })
		},
	}
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// LatestNewsVideos は各チャンネルの最新動画を並行して取得し、混ぜ合わせて返す。
// 失敗したチャンネルは結果から除かれる。
func (c *VideoClient) LatestNewsVideos(ctx context.Context) []model.Video {
	if c.cfg.APIKey == "" {
		c.fetcher.logger.Error("YouTubeのAPIキーが設定されていません")
		return []model.Video{}
	}

	var mu sync.Mutex
	videos := make([]model.Video, 0, len(c.cfg.Channels)*videosPerChannel)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChannels)
	for _, ch := range c.cfg.Channels {
		g.Go(func() error {
			got := c.channelVideos(gctx, ch)
			mu.Lock()
			videos = append(videos, got...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.shuffle(videos)
	return videos
}

func (c *VideoClient) channelVideos(ctx context.Context, ch catalog.Channel) []model.Video {
	params := url.Values{
		"channelId":  {ch.ID},
		"part":       {"snippet,id"},
		"order":      {"date"},
		"maxResults": {strconv.Itoa(videosPerChannel)},
	}
	cacheKey, err := buildURL(c.cfg.BaseURL, "search", params)
	if err != nil {
		c.fetcher.logger.Error("YouTubeのURLの構築に失敗しました", slog.String("error", err.Error()))
		return nil
	}

	// APIキーはキャッシュキーに含めない
	params.Set("key", c.cfg.APIKey)
	target, _ := buildURL(c.cfg.BaseURL, "search", params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.fetcher.logger.Error("YouTubeのリクエストの生成に失敗しました", slog.String("error", err.Error()))
		return nil
	}

	var resp youtubeSearchResponse
	if !c.fetcher.getJSON(ctx, cacheKey, req, &resp) {
		c.fetcher.logger.Warn("チャンネルの動画を取得できませんでした",
			slog.String("channel", ch.Name),
		)
		return nil
	}

	videos := make([]model.Video, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID.Kind != videoKind || item.ID.VideoID == "" {
			continue
		}
		videos = append(videos, model.Video{
			ID:           item.ID.VideoID,
			Title:        c.sanitizer.Text(item.Snippet.Title),
			ChannelTitle: item.Snippet.ChannelTitle,
			ThumbnailURL: item.Snippet.Thumbnails.High.URL,
		})
	}
	return videos
}
