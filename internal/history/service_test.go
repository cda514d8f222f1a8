package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/database"
	"github.com/hitoshi/newsdesk/internal/database/databasetest"
	"github.com/hitoshi/newsdesk/internal/events"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/writer"
)

// --- モック ---

type mockHistoryRepo struct {
	upsertFn     func(ctx context.Context, e *model.HistoryEntry) error
	findByKeyFn  func(ctx context.Context, userID, key string) (*model.HistoryEntry, error)
	listRecentFn func(ctx context.Context, userID string, limit int) ([]*model.HistoryEntry, error)
}

func (m *mockHistoryRepo) Upsert(ctx context.Context, e *model.HistoryEntry) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, e)
	}
	return nil
}
func (m *mockHistoryRepo) FindByKey(ctx context.Context, userID, key string) (*model.HistoryEntry, error) {
	if m.findByKeyFn != nil {
		return m.findByKeyFn(ctx, userID, key)
	}
	return nil, nil
}
func (m *mockHistoryRepo) ListRecent(ctx context.Context, userID string, limit int) ([]*model.HistoryEntry, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, userID, limit)
	}
	return nil, nil
}

// countingSubmitter はSubmitの呼び出しを数えてから実際のディスパッチャーに渡す。
type countingSubmitter struct {
	next  writer.Submitter
	mu    sync.Mutex
	calls int
}

func (c *countingSubmitter) Submit(path string, op model.WriteOp, payload map[string]any, fn writer.WriteFunc) *writer.Task {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.Submit(path, op, payload, fn)
}

// --- ヘルパー ---

type testEnv struct {
	service *Service
	store   *database.Store
	writes  *countingSubmitter
	events  *[]events.Event
	mu      *sync.Mutex
}

func newSQLiteEnv(t *testing.T) *testEnv {
	t.Helper()

	provider, store := databasetest.NewProvider(t)
	bus := events.NewBus(nil)

	var mu sync.Mutex
	var received []events.Event
	bus.Subscribe(events.KindAll, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	d := writer.NewDispatcher(writer.Config{Shards: 4}, bus, nil, nil)
	t.Cleanup(func() { d.Close(context.Background()) })

	writes := &countingSubmitter{next: d}
	return &testEnv{
		service: NewService(repository.NewSQLHistoryRepo(provider), writes, nil),
		store:   store,
		writes:  writes,
		events:  &received,
		mu:      &mu,
	}
}

func (e *testEnv) eventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(*e.events)
}

// fixedClock はNowを呼ぶたびにstepずつ進む時計。
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(step)
		return t
	}
}

func wait(t *testing.T, task *writer.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("書き込みが完了しない")
	}
	return err
}

func article(url string) model.Article {
	return model.Article{
		Title:       "Title of " + url,
		Description: "Description",
		URL:         url,
		URLToImage:  url + "/image.jpg",
		PublishedAt: "2026-05-01T09:00:00Z",
		Source:      model.ArticleSource{ID: "the-hindu", Name: "The Hindu"},
	}
}

// --- テスト ---

// 同じ記事を2回読むと履歴は1件のみで、read_atは2回目の時刻になる
func TestService_AddEntry_Deduplicates(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	first := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Minute)
	times := []time.Time{first, second}
	env.service.now = func() time.Time {
		t := times[0]
		times = times[1:]
		return t
	}

	url := "https://example.com/news/42"
	if err := wait(t, env.service.AddEntry(ctx, "u1", article(url))); err != nil {
		t.Fatalf("first AddEntry failed: %v", err)
	}
	if err := wait(t, env.service.AddEntry(ctx, "u1", article(url))); err != nil {
		t.Fatalf("second AddEntry failed: %v", err)
	}

	var count int
	if err := env.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reading_history WHERE user_id = $1`, "u1",
	).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("履歴件数 = %d, want 1", count)
	}

	entry := env.service.Lookup(ctx, "u1", url)
	if entry == nil {
		t.Fatal("導出したキーで履歴が見つからない")
	}
	if entry.EntryKey != EntryKey(url) {
		t.Errorf("EntryKey = %q, want %q", entry.EntryKey, EntryKey(url))
	}
	if entry.ReadAt == nil || !entry.ReadAt.Equal(second) {
		t.Errorf("ReadAt = %v, want %v", entry.ReadAt, second)
	}
}

// 同時に同じ記事を記録しても重複しない
func TestService_AddEntry_ConcurrentSameArticle(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	tasks := make([]*writer.Task, 10)
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tasks[i] = env.service.AddEntry(ctx, "u1", article("https://example.com/double-click"))
		}(i)
	}
	wg.Wait()
	for _, task := range tasks {
		if err := wait(t, task); err != nil {
			t.Fatalf("AddEntry failed: %v", err)
		}
	}

	if got := env.service.GetHistory(ctx, "u1"); len(got) != 1 {
		t.Errorf("履歴件数 = %d, want 1", len(got))
	}
}

// URLが空の記事は書き込みもイベントも発生させない
func TestService_AddEntry_EmptyURLIsNoop(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	for _, url := range []string{"", "   "} {
		task := env.service.AddEntry(ctx, "u1", model.Article{Title: "no url", URL: url})
		if err := wait(t, task); err != nil {
			t.Errorf("空のURLでエラーが返った: %v", err)
		}
	}

	if env.writes.calls != 0 {
		t.Errorf("書き込み回数 = %d, want 0", env.writes.calls)
	}
	if n := env.eventCount(); n != 0 {
		t.Errorf("イベント数 = %d, want 0", n)
	}
}

// 60件の履歴から最新50件がread_atの厳密な降順で返る
func TestService_GetHistory_BoundedAndOrdered(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()
	env.service.now = fixedClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Second)

	var tasks []*writer.Task
	for i := 0; i < 60; i++ {
		tasks = append(tasks, env.service.AddEntry(ctx, "u1", article(fmt.Sprintf("https://example.com/a/%d", i))))
	}
	for _, task := range tasks {
		if err := wait(t, task); err != nil {
			t.Fatalf("AddEntry failed: %v", err)
		}
	}

	got := env.service.GetHistory(ctx, "u1")
	if len(got) != MaxEntries {
		t.Fatalf("len = %d, want %d", len(got), MaxEntries)
	}

	for i := 1; i < len(got); i++ {
		prev, _ := time.Parse(time.RFC3339Nano, got[i-1].ReadAt)
		cur, _ := time.Parse(time.RFC3339Nano, got[i].ReadAt)
		if !prev.After(cur) {
			t.Fatalf("got[%d].ReadAt=%s が got[%d].ReadAt=%s より新しくない", i-1, got[i-1].ReadAt, i, got[i].ReadAt)
		}
	}
	if got[0].URL != "https://example.com/a/59" {
		t.Errorf("最新の記事 = %q, want https://example.com/a/59", got[0].URL)
	}
	if got[0].Source.Name != "The Hindu" || got[0].URLToImage == "" {
		t.Errorf("スナップショットが欠けている: %+v", got[0])
	}
}

func TestService_GetHistory_LegacyEntriesLast(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if _, err := env.store.ExecContext(ctx,
		`INSERT INTO reading_history (user_id, entry_key, article_url, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		"u1", EntryKey("https://example.com/legacy"), "https://example.com/legacy", "legacy", now,
	); err != nil {
		t.Fatalf("旧データの挿入に失敗: %v", err)
	}
	if err := wait(t, env.service.AddEntry(ctx, "u1", article("https://example.com/new"))); err != nil {
		t.Fatal(err)
	}

	got := env.service.GetHistory(ctx, "u1")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].URL != "https://example.com/legacy" || got[1].ReadAt != "" {
		t.Errorf("read_atのない旧データは最後に並ぶべき: %+v", got)
	}
}

func TestService_GetHistory_ReadFailureReturnsEmpty(t *testing.T) {
	repo := &mockHistoryRepo{
		listRecentFn: func(ctx context.Context, userID string, limit int) ([]*model.HistoryEntry, error) {
			return nil, errors.New("connection refused")
		},
	}
	s := NewService(repo, nil, nil)

	got := s.GetHistory(context.Background(), "u1")
	if got == nil || len(got) != 0 {
		t.Errorf("読み込み失敗時は空のスライスを返すべき: %v", got)
	}
}

func TestService_GetHistory_PassesLimit(t *testing.T) {
	var gotLimit int
	repo := &mockHistoryRepo{
		listRecentFn: func(ctx context.Context, userID string, limit int) ([]*model.HistoryEntry, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	NewService(repo, nil, nil).GetHistory(context.Background(), "u1")

	if gotLimit != MaxEntries {
		t.Errorf("limit = %d, want %d", gotLimit, MaxEntries)
	}
}

func TestService_AddEntry_PermissionDenied(t *testing.T) {
	env := newSQLiteEnv(t)
	databasetest.DenyWrites(t, env.store)

	url := "https://example.com/denied"
	err := wait(t, env.service.AddEntry(context.Background(), "u1", article(url)))

	var werr *model.WriteError
	if !errors.As(err, &werr) || werr.Kind != model.WriteErrorPermission {
		t.Fatalf("err = %v, want permission WriteError", err)
	}
	if n := env.eventCount(); n != 1 {
		t.Fatalf("イベント数 = %d, want 1", n)
	}

	env.mu.Lock()
	e := (*env.events)[0]
	env.mu.Unlock()
	if e.Path != Path("u1", EntryKey(url)) || e.Op != model.WriteOpWrite {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Payload["url"] != url {
		t.Errorf("Payload = %v", e.Payload)
	}
}
