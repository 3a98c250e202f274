package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liao/cinema-bot/internal/ai"
	"github.com/liao/cinema-bot/internal/catalog"
	"github.com/liao/cinema-bot/internal/history"
	"github.com/liao/cinema-bot/internal/persona"
	"github.com/liao/cinema-bot/internal/rag"
)

// --- mocks ---

type mockGenerator struct {
	generateFn func(ctx context.Context, query, contextBlock string) string
	calls      atomic.Int32
}

func (m *mockGenerator) Generate(ctx context.Context, query, contextBlock string) string {
	m.calls.Add(1)
	return m.generateFn(ctx, query, contextBlock)
}

type mockModel struct {
	completeFn func(ctx context.Context, prompt string, maxTokens int32) (string, error)
}

func (m *mockModel) Complete(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	return m.completeFn(ctx, prompt, maxTokens)
}

// failingStore 按需让某个操作失败，其余委托给内存实现
type failingStore struct {
	*history.MemoryStore
	appendErr, recentErr, clearErr error
}

func (f *failingStore) Append(ctx context.Context, e history.Entry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.MemoryStore.Append(ctx, e)
}

func (f *failingStore) Recent(ctx context.Context, userID int64, limit int) ([]history.Entry, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.MemoryStore.Recent(ctx, userID, limit)
}

func (f *failingStore) Clear(ctx context.Context, userID int64) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.MemoryStore.Clear(ctx, userID)
}

// --- helpers ---

func testRetriever() *rag.Retriever {
	table := catalog.New([]catalog.Film{
		{Title: "Побег из Шоушенка", Year: 1994, Country: "США", Rating: 9.1,
			Overview: "Бухгалтер Энди Дюфрейн обвинён в убийстве собственной жены.",
			Director: "Фрэнк Дарабонт", Actors: []string{"Тим Роббинс", "Морган Фриман"}},
		{Title: "Начало", Year: 2010, Country: "США", Rating: 8.7,
			Overview: "Кобб — талантливый вор, лучший из лучших в опасном искусстве извлечения.",
			Director: "Кристофер Нолан", Actors: []string{"Леонардо ДиКаприо"}},
	})
	return rag.NewRetriever(table, rag.DefaultOptions())
}

func echoGenerator() *mockGenerator {
	return &mockGenerator{generateFn: func(_ context.Context, query, contextBlock string) string {
		return "answer for " + query
	}}
}

// --- tests ---

func TestAnswer_FoundGeneratesAndPersists(t *testing.T) {
	store := history.NewMemoryStore()
	var gotContext string
	gen := &mockGenerator{generateFn: func(_ context.Context, _ string, contextBlock string) string {
		gotContext = contextBlock
		return "Нолан снял «Начало»."
	}}
	svc := NewService(testRetriever(), gen, store, persona.Default(), 3)

	reply, err := svc.Answer(context.Background(), 10, "  Нолан ")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !reply.Found || reply.Text != "Нолан снял «Начало»." || reply.RequestID == "" {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.Candidates) != 1 || reply.Candidates[0].Film.Title != "Начало" || reply.Candidates[0].Score <= rag.DefaultThreshold {
		t.Errorf("candidates = %+v", reply.Candidates)
	}
	if !strings.Contains(gotContext, "- Фильм: Начало (2010, США, рейтинг: 8.7)") {
		t.Errorf("context block = %q", gotContext)
	}

	entries, err := store.Recent(context.Background(), 10, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Query != "Нолан" || entries[0].Answer != reply.Text {
		t.Errorf("history = %+v", entries)
	}
}

func TestAnswer_NotFoundSkipsGeneration(t *testing.T) {
	store := history.NewMemoryStore()
	gen := echoGenerator()
	p := persona.Default()
	svc := NewService(testRetriever(), gen, store, p, 3)

	reply, err := svc.Answer(context.Background(), 11, "xyzzyunknown123")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Found || reply.Text != p.Replies.NotFound {
		t.Errorf("reply = %+v", reply)
	}
	if gen.calls.Load() != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls.Load())
	}

	entries, _ := store.Recent(context.Background(), 11, 10)
	if len(entries) != 1 || entries[0].Answer != p.Replies.NotFound {
		t.Errorf("history = %+v", entries)
	}
}

func TestAnswer_ModelTimeoutPersistsApology(t *testing.T) {
	store := history.NewMemoryStore()
	p := persona.Default()
	model := &mockModel{completeFn: func(ctx context.Context, _ string, _ int32) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	gen := ai.NewGenerator(model, p, ai.GeneratorOptions{Timeout: 10 * time.Millisecond})
	svc := NewService(testRetriever(), gen, store, p, 3)

	reply, err := svc.Answer(context.Background(), 12, "Нолан")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != p.Replies.Apology {
		t.Errorf("reply text = %q, want apology", reply.Text)
	}
	entries, _ := store.Recent(context.Background(), 12, 1)
	if len(entries) != 1 || entries[0].Answer != p.Replies.Apology {
		t.Errorf("history = %+v", entries)
	}
}

func TestAnswer_CancelledContextStillPersists(t *testing.T) {
	store, err := history.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	p := persona.Default()
	model := &mockModel{completeFn: func(ctx context.Context, _ string, _ int32) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	gen := ai.NewGenerator(model, p, ai.GeneratorOptions{Timeout: time.Second})
	svc := NewService(testRetriever(), gen, store, p, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply, err := svc.Answer(ctx, 1, "Нолан")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply.Text != p.Replies.Apology {
		t.Errorf("reply text = %q, want apology", reply.Text)
	}
	entries, err := store.Recent(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Answer != p.Replies.Apology || entries[0].Query != "Нолан" {
		t.Errorf("history = %+v, want one apology entry", entries)
	}
}

func TestAnswer_PersistFailureStillReturnsReply(t *testing.T) {
	storeErr := errors.New("disk full")
	store := &failingStore{MemoryStore: history.NewMemoryStore(), appendErr: storeErr}
	svc := NewService(testRetriever(), echoGenerator(), store, persona.Default(), 3)

	reply, err := svc.Answer(context.Background(), 13, "Нолан")
	if !errors.Is(err, ErrHistoryWrite) || !errors.Is(err, storeErr) {
		t.Fatalf("err = %v, want ErrHistoryWrite wrapping the store error", err)
	}
	if reply.Text != "answer for Нолан" {
		t.Errorf("reply text = %q", reply.Text)
	}
}

func TestAnswer_EmptyQuery(t *testing.T) {
	gen := echoGenerator()
	store := history.NewMemoryStore()
	svc := NewService(testRetriever(), gen, store, persona.Default(), 3)

	if _, err := svc.Answer(context.Background(), 1, "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("err = %v, want ErrEmptyQuery", err)
	}
	entries, _ := store.Recent(context.Background(), 1, 10)
	if len(entries) != 0 || gen.calls.Load() != 0 {
		t.Error("empty query must not generate or persist")
	}
}

func TestHistoryAndClear(t *testing.T) {
	store := history.NewMemoryStore()
	svc := NewService(testRetriever(), echoGenerator(), store, persona.Default(), 3)

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	ctx := context.Background()
	for _, q := range []string{"Нолан", "Шоушенк", "Дарабонт"} {
		if _, err := svc.Answer(ctx, 20, q); err != nil {
			t.Fatalf("Answer(%q): %v", q, err)
		}
	}

	entries, err := svc.History(ctx, 20, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 3 || entries[0].Query != "Дарабонт" || entries[2].Query != "Нолан" {
		t.Errorf("history order = %+v", entries)
	}

	if err := svc.ClearHistory(ctx, 20); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	entries, err = svc.History(ctx, 20, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("history after clear = %+v", entries)
	}
}

func TestHistoryErrorsAreTyped(t *testing.T) {
	store := &failingStore{
		MemoryStore: history.NewMemoryStore(),
		recentErr:   errors.New("locked"),
		clearErr:    errors.New("locked"),
	}
	svc := NewService(testRetriever(), echoGenerator(), store, persona.Default(), 3)

	if _, err := svc.History(context.Background(), 1, 10); !errors.Is(err, ErrHistoryRead) {
		t.Errorf("History err = %v, want ErrHistoryRead", err)
	}
	if err := svc.ClearHistory(context.Background(), 1); !errors.Is(err, ErrHistoryClear) {
		t.Errorf("ClearHistory err = %v, want ErrHistoryClear", err)
	}
}

func TestAnswer_ConcurrentUsers(t *testing.T) {
	store := history.NewMemoryStore()
	gen := &mockGenerator{generateFn: func(context.Context, string, string) string {
		time.Sleep(5 * time.Millisecond)
		return "ok"
	}}
	svc := NewService(testRetriever(), gen, store, persona.Default(), 3)

	const users, perUser = 5, 4
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(uid int64, i int) {
				defer wg.Done()
				if _, err := svc.Answer(context.Background(), uid, fmt.Sprintf("Нолан %d", i)); err != nil {
					t.Errorf("Answer: %v", err)
				}
			}(int64(u), i)
		}
	}
	wg.Wait()

	for u := 0; u < users; u++ {
		entries, err := store.Recent(context.Background(), int64(u), 100)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(entries) != perUser {
			t.Errorf("user %d: %d entries, want %d", u, len(entries), perUser)
		}
	}
}

func TestSearch(t *testing.T) {
	svc := NewService(testRetriever(), echoGenerator(), history.NewMemoryStore(), persona.Default(), 3)
	got := svc.Search("нолан", 0)
	if len(got) != 1 || got[0].Film.Title != "Начало" {
		t.Errorf("Search = %+v", got)
	}
}
