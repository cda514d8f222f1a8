// Package catalog はニュースカテゴリ、動画チャンネル、ニュースソースの一覧を提供する。
// 既定の一覧はバイナリに埋め込まれたYAMLから読み込む。
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Channel は動画を取得するYouTubeチャンネル。
type Channel struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Catalog はカテゴリ等の一覧。生成後は変更しない。
type Catalog struct {
	Categories      []string  `yaml:"categories" json:"categories"`
	YouTubeChannels []Channel `yaml:"youtube_channels" json:"youtubeChannels"`
	NewsSources     []string  `yaml:"news_sources" json:"newsSources"`
}

// Default は埋め込みYAMLから読み込んだカタログを返す。
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load はpathのYAMLからカタログを読み込む。pathが空の場合は既定のカタログを返す。
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse はYAMLをカタログとして解釈する。カテゴリが1つもない場合はエラー。
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("catalog has no categories")
	}
	for i, cat := range c.Categories {
		c.Categories[i] = strings.ToLower(strings.TrimSpace(cat))
	}
	return &c, nil
}

// HasCategory はcategoryがカタログに含まれるかを返す。
func (c *Catalog) HasCategory(category string) bool {
	return slices.Contains(c.Categories, category)
}

// SourceList はNewsAPIのsourcesパラメータ用にカンマ区切りの一覧を返す。
func (c *Catalog) SourceList() string {
	return strings.Join(c.NewsSources, ",")
}
