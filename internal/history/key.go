package history

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// EntryKey は記事URLから閲覧履歴のキーを導出する。
//
// 手順:
//  1. 前後の空白を除く
//  2. スキームとホストを小文字にし、既定ポート（http:80, https:443）を除く
//  3. フラグメントを除き、空のパスは "/" とする
//  4. 正規化したURLのSHA-256を小文字16進数（64文字）で返す
//
// 同じURLは常に同じキーになり、キーはURLやパスにそのまま使える。
// 解釈できないURLは空白を除いた文字列をそのままハッシュする。
// 空のURLには空文字列を返す。
func EntryKey(rawURL string) string {
	normalized := NormalizeURL(rawURL)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NormalizeURL はEntryKeyが使う正規化済みのURLを返す。
func NormalizeURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return s
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}
