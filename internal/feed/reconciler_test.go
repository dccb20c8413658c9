package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"forum-client/internal/forum"
)

// fakeLoader serves pages the way the history endpoint does: page 1 is the
// newest slice, ascending within the page, empty past the end.
type fakeLoader struct {
	mu       sync.Mutex
	byThread map[int64][]forum.Message
	pageSize int
	calls    int

	gateThread int64
	started    chan struct{}
	release    chan struct{}
}

func (f *fakeLoader) ListMessagesByThread(_ context.Context, threadID int64, page int) ([]forum.Message, error) {
	f.mu.Lock()
	f.calls++
	gated := f.gateThread != 0 && threadID == f.gateThread
	f.mu.Unlock()

	if gated {
		f.started <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.byThread[threadID]
	end := len(msgs) - (page-1)*f.pageSize
	if end <= 0 {
		return nil, nil
	}
	start := end - f.pageSize
	if start < 0 {
		start = 0
	}
	out := make([]forum.Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

func (f *fakeLoader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedThread(threadID int64, n int) []forum.Message {
	msgs := make([]forum.Message, 0, n)
	for i := 1; i <= n; i++ {
		msgs = append(msgs, forum.Message{
			ID:       int64(i),
			ThreadID: threadID,
			UserID:   1,
			Content:  fmt.Sprintf("message %d", i),
		})
	}
	return msgs
}

func ids(msgs []forum.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertAscending(t *testing.T, msgs []forum.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("ordering violated at %d: %v", i, ids(msgs))
		}
	}
}

func TestOpenThreadAndLoadOlderScenario(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{7: seedThread(7, 45)},
		pageSize: 20,
	}
	r := New(Options{Loader: loader, PageSize: 20})
	ctx := context.Background()

	effect, err := r.OpenThread(ctx, 7)
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	if effect != EffectSnapBottom {
		t.Fatalf("expected snap to bottom, got %v", effect)
	}
	msgs := r.Messages()
	if len(msgs) != 20 || msgs[0].ID != 26 || msgs[19].ID != 45 {
		t.Fatalf("expected ids 26..45, got %v", ids(msgs))
	}
	if !r.HasOlder() {
		t.Fatalf("full first page should imply older pages")
	}

	effect, err = r.LoadOlder(ctx)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if effect != EffectPreserveOffset {
		t.Fatalf("expected preserve-offset, got %v", effect)
	}
	msgs = r.Messages()
	if len(msgs) != 40 || msgs[0].ID != 6 || msgs[39].ID != 45 {
		t.Fatalf("expected ids 6..45, got %v", ids(msgs))
	}
	assertAscending(t, msgs)

	if _, err := r.LoadOlder(ctx); err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	msgs = r.Messages()
	if len(msgs) != 45 || msgs[0].ID != 1 {
		t.Fatalf("expected ids 1..45, got %v", ids(msgs))
	}
	if r.HasOlder() {
		t.Fatalf("short page should mark history exhausted")
	}

	calls := loader.callCount()
	if effect, err := r.LoadOlder(ctx); err != nil || effect != EffectNone {
		t.Fatalf("exhausted LoadOlder should be a no-op, got %v, %v", effect, err)
	}
	if loader.callCount() != calls {
		t.Fatalf("guarded LoadOlder must not hit the loader")
	}
}

func TestOptimisticSendPushEchoDedupe(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{7: seedThread(7, 3)},
		pageSize: 20,
	}
	r := New(Options{Loader: loader, PageSize: 20})
	if _, err := r.OpenThread(context.Background(), 7); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	sent := forum.Message{ID: 4, ThreadID: 7, UserID: 1, Content: "mine"}

	// Push echo arrives before the create call returns.
	r.DispatchPush(forum.MessagePush{Message: sent, IsMine: true})
	if effect := r.AppendLocal(sent); effect != EffectSnapBottom {
		t.Fatalf("AppendLocal should snap to bottom, got %v", effect)
	}
	// And the reverse order on a second message.
	sent2 := forum.Message{ID: 5, ThreadID: 7, UserID: 1, Content: "mine too"}
	r.AppendLocal(sent2)
	r.DispatchPush(forum.MessagePush{Message: sent2, IsMine: true})

	msgs := r.Messages()
	if len(msgs) != 5 {
		t.Fatalf("expected 5 unique messages, got %v", ids(msgs))
	}
	assertAscending(t, msgs)
}

func TestPushOutOfOrderInsert(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{7: seedThread(7, 2)},
		pageSize: 20,
	}
	r := New(Options{Loader: loader, PageSize: 20})
	if _, err := r.OpenThread(context.Background(), 7); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	r.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 9, ThreadID: 7}})
	r.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 5, ThreadID: 7}})

	msgs := r.Messages()
	assertAscending(t, msgs)
	if len(msgs) != 4 || msgs[3].ID != 9 {
		t.Fatalf("unexpected merge result %v", ids(msgs))
	}
}

func TestPushRespectsScrollPosition(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{7: seedThread(7, 2)},
		pageSize: 20,
	}
	r := New(Options{Loader: loader, PageSize: 20})
	if _, err := r.OpenThread(context.Background(), 7); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	r.SetAtBottom(false)
	if effect := r.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 3, ThreadID: 7}}); effect != EffectNone {
		t.Fatalf("reader scrolled up must not be yanked, got %v", effect)
	}
	r.SetAtBottom(true)
	if effect := r.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 4, ThreadID: 7}}); effect != EffectSnapBottom {
		t.Fatalf("reader at bottom should snap, got %v", effect)
	}
}

func TestUnseenAccounting(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{
			7: seedThread(7, 2),
			9: seedThread(9, 1),
		},
		pageSize: 20,
	}
	var notified []int64
	r := New(Options{
		Loader:       loader,
		PageSize:     20,
		HighlightTTL: 40 * time.Millisecond,
		OnUnseen: func(push forum.MessagePush, count int) {
			notified = append(notified, push.ThreadID)
		},
	})
	if _, err := r.OpenThread(context.Background(), 7); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	before := r.Messages()

	r.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 100, ThreadID: 9}})
	r.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 101, ThreadID: 9}})

	if got := r.UnseenCount(9); got != 2 {
		t.Fatalf("expected 2 unseen for thread 9, got %d", got)
	}
	if len(r.Messages()) != len(before) {
		t.Fatalf("open thread list must be unaffected by background pushes")
	}
	if !r.Highlighted(9) {
		t.Fatalf("thread 9 should be highlighted")
	}
	if len(notified) != 2 {
		t.Fatalf("expected 2 unseen notifications, got %d", len(notified))
	}

	// The highlight is transient; the counter is not.
	time.Sleep(100 * time.Millisecond)
	if r.Highlighted(9) {
		t.Fatalf("highlight should auto-clear")
	}
	if got := r.UnseenCount(9); got != 2 {
		t.Fatalf("unseen count should survive the highlight clear, got %d", got)
	}

	if _, err := r.OpenThread(context.Background(), 9); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	if got := r.UnseenCount(9); got != 0 {
		t.Fatalf("opening the thread should reset its unseen count, got %d", got)
	}
}

func TestStaleHistoryPageDiscarded(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{
			7: seedThread(7, 2),
			8: seedThread(8, 30),
		},
		pageSize:   20,
		gateThread: 7,
		started:    make(chan struct{}, 1),
		release:    make(chan struct{}),
	}
	r := New(Options{Loader: loader, PageSize: 20})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.OpenThread(context.Background(), 7); err != nil {
			t.Errorf("OpenThread(7): %v", err)
		}
	}()

	<-loader.started
	// The user switches threads while thread 7's page is still in flight.
	loader.mu.Lock()
	loader.gateThread = 0
	loader.mu.Unlock()
	if _, err := r.OpenThread(context.Background(), 8); err != nil {
		t.Fatalf("OpenThread(8): %v", err)
	}
	close(loader.release)
	<-done

	if r.OpenThreadID() != 8 {
		t.Fatalf("thread 8 should remain open")
	}
	msgs := r.Messages()
	for _, m := range msgs {
		if m.ThreadID != 8 {
			t.Fatalf("late thread-7 page leaked into thread 8's list: %v", ids(msgs))
		}
	}
	if len(msgs) != 20 {
		t.Fatalf("expected thread 8's newest page intact, got %d messages", len(msgs))
	}
}

func TestStalePushDiscarded(t *testing.T) {
	loader := &fakeLoader{
		byThread: map[int64][]forum.Message{7: seedThread(7, 2)},
		pageSize: 20,
	}
	r := New(Options{Loader: loader, PageSize: 20})
	if _, err := r.OpenThread(context.Background(), 7); err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	// No thread open at all: pushes only feed the unseen index.
	r2 := New(Options{Loader: loader, PageSize: 20})
	r2.DispatchPush(forum.MessagePush{Message: forum.Message{ID: 1, ThreadID: 7}})
	if len(r2.Messages()) != 0 {
		t.Fatalf("push without an open thread must not build a list")
	}
	if r2.UnseenCount(7) != 1 {
		t.Fatalf("push without an open thread should count as unseen")
	}
}
