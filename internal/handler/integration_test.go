package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/newsdesk/internal/auth"
	"github.com/hitoshi/newsdesk/internal/catalog"
	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/database/databasetest"
	"github.com/hitoshi/newsdesk/internal/events"
	"github.com/hitoshi/newsdesk/internal/history"
	"github.com/hitoshi/newsdesk/internal/middleware"
	"github.com/hitoshi/newsdesk/internal/notify"
	"github.com/hitoshi/newsdesk/internal/profile"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/writer"
)


// integrationEnv は実際のサービス層とインメモリSQLiteで構成したテスト環境。
type integrationEnv struct {
	server *httptest.Server
	client *http.Client
	store  *database.Store
}

func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	provider, store := databasetest.NewProvider(t)

	bus := events.NewBus(nil)
	inbox := notify.NewInbox(0, nil, nil)
	t.Cleanup(inbox.Attach(bus))

	dispatcher := writer.NewDispatcher(writer.Config{Shards: 2, Timeout: 5 * time.Second}, bus, nil, nil)
	t.Cleanup(func() { dispatcher.Close(context.Background()) })

	cat := catalog.Default()
	profiles := profile.NewService(repository.NewSQLProfileRepo(provider), dispatcher, cat, nil)
	histories := history.NewService(repository.NewSQLHistoryRepo(provider), dispatcher, nil)
	sessions := repository.NewSQLSessionRepo(provider)
	authSvc := auth.NewService(
		repository.NewSQLCredentialRepo(provider), sessions, profiles,
		auth.ServiceConfig{SessionMaxAge: 3600, BcryptCost: bcrypt.MinCost}, nil,
	)

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(100000, 1000))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		SessionFinder:     sessions,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     provider,
		AuthService:       authSvc,
		AuthConfig:        AuthHandlerConfig{SessionMaxAge: 3600},
		ProfileService:    profiles,
		HistoryService:    histories,
		Notifications:     inbox,
		NewsService:       &mockNewsService{},
		VideoService:      &mockVideoService{},
		Catalog:           cat,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jarの生成に失敗: %v", err)
	}
	return &integrationEnv{
		server: srv,
		client: &http.Client{Jar: jar},
		store:  store,
	}
}

func (e *integrationEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatalf("リクエストの生成に失敗: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

// eventually は条件が満たされるまで待つ。書き込みはノンブロッキングのため結果の反映を待つ必要がある。
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("条件が時間内に満たされなかった")
}

func TestIntegration_SignUpCreatesProfileAndRecordsHistory(t *testing.T) {
	env := newIntegrationEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/auth/signup", `{"email":"reader@example.com","password":"long-password","name":"Reader"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}

	// サインアップで作成されたプロフィールはデフォルトのpreferencesを持つ
	var p profileResponse
	eventually(t, func() bool {
		resp, body := env.do(t, http.MethodGet, "/api/profile", "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		json.Unmarshal(body, &p)
		return true
	})
	if p.Username != "Reader" || p.Email != "reader@example.com" || strings.Join(p.Preferences, ",") != "general,technology" {
		t.Errorf("profile = %+v", p)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/profile/preferences", `{"preferences":["Sports","health","sports"]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("preferences status = %d", resp.StatusCode)
	}
	eventually(t, func() bool {
		_, body := env.do(t, http.MethodGet, "/api/profile", "")
		json.Unmarshal(body, &p)
		return strings.Join(p.Preferences, ",") == "sports,health"
	})

	// 同じ記事を2回読んでも履歴は1件
	for range 2 {
		resp, _ = env.do(t, http.MethodPost, "/api/history", `{"title":"Rain","url":"https://example.com/rain"}`)
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("history status = %d", resp.StatusCode)
		}
	}
	var hist historyListResponse
	eventually(t, func() bool {
		_, body := env.do(t, http.MethodGet, "/api/history", "")
		json.Unmarshal(body, &hist)
		return len(hist.Articles) == 1
	})
	if hist.Articles[0].Title != "Rain" || hist.Articles[0].ReadAt == "" {
		t.Errorf("history = %+v", hist.Articles)
	}
}

func TestIntegration_PermissionDeniedSurfacesAsNotification(t *testing.T) {
	env := newIntegrationEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/auth/signup", `{"email":"denied@example.com","password":"long-password","name":"Denied"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	eventually(t, func() bool {
		resp, _ := env.do(t, http.MethodGet, "/api/profile", "")
		return resp.StatusCode == http.StatusOK
	})

	databasetest.DenyWrites(t, env.store)

	// 書き込みが拒否されてもリクエストは受理される
	resp, _ = env.do(t, http.MethodPatch, "/api/profile", `{"age":33}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	var got notificationsResponse
	eventually(t, func() bool {
		_, body := env.do(t, http.MethodGet, "/api/notifications", "")
		json.Unmarshal(body, &got)
		return len(got.Notifications) > 0
	})
	n := got.Notifications[0]
	if n.Kind != string(events.KindPermission) || n.Op != "update" || !strings.HasPrefix(n.Path, "users/") {
		t.Errorf("notification = %+v", n)
	}

	// 受け取った通知は消える
	_, body := env.do(t, http.MethodGet, "/api/notifications", "")
	json.Unmarshal(body, &got)
	if len(got.Notifications) != 0 {
		t.Errorf("drain後も通知が残っている: %+v", got.Notifications)
	}
}

func TestIntegration_LogoutInvalidatesSession(t *testing.T) {
	env := newIntegrationEnv(t)

	env.do(t, http.MethodPost, "/auth/signup", `{"email":"out@example.com","password":"long-password"}`)
	resp, _ := env.do(t, http.MethodGet, "/auth/me", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/logout", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/auth/me", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("ログアウト後のstatus = %d, want 401", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/auth/login", `{"email":"out@example.com","password":"long-password"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("再ログインのstatus = %d", resp.StatusCode)
	}
}

func TestIntegration_Health(t *testing.T) {
	env := newIntegrationEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
