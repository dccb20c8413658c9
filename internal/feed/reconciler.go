// Package feed merges the three sources of truth for a thread's messages
// (reverse-paginated history, live push events, and the user's own optimistic
// sends) into one ascending, duplicate-free sequence, and keeps unseen
// counters for every thread that is not the open one.
package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"forum-client/internal/forum"
)

// HistoryLoader is the paginated history endpoint. Page 1 is newest; an
// empty page means exhausted.
type HistoryLoader interface {
	ListMessagesByThread(ctx context.Context, threadID int64, page int) ([]forum.Message, error)
}

// ViewEffect tells the rendering collaborator what to do with the viewport
// after a merge. Rendering itself lives outside this package.
type ViewEffect int

const (
	// EffectNone leaves the viewport alone.
	EffectNone ViewEffect = iota
	// EffectSnapBottom jumps to the newest message.
	EffectSnapBottom
	// EffectPreserveOffset keeps the previously visible message in place
	// after older messages were inserted above it.
	EffectPreserveOffset
)

const (
	DefaultPageSize     = 20
	DefaultHighlightTTL = 5 * time.Second
)

type Options struct {
	Loader   HistoryLoader
	PageSize int
	// HighlightTTL is how long a backgrounded thread stays marked as having
	// fresh activity. Presentation hint only.
	HighlightTTL time.Duration
	Logger       *slog.Logger
	// OnUnseen, when set, fires after each push event for a thread that is
	// not open. Called without the reconciler lock held.
	OnUnseen func(push forum.MessagePush, count int)
}

type Reconciler struct {
	loader       HistoryLoader
	pageSize     int
	highlightTTL time.Duration
	log          *slog.Logger
	onUnseen     func(forum.MessagePush, int)

	mu           sync.Mutex
	openThreadID int64 // 0 means no thread open
	messages     []forum.Message
	oldestPage   int
	hasOlder     bool
	loadingOlder bool
	atBottom     bool

	unseen          map[int64]int
	highlighted     map[int64]bool
	highlightTimers map[int64]*time.Timer
}

func New(opts Options) *Reconciler {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	ttl := opts.HighlightTTL
	if ttl <= 0 {
		ttl = DefaultHighlightTTL
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		loader:          opts.Loader,
		pageSize:        pageSize,
		highlightTTL:    ttl,
		log:             log,
		onUnseen:        opts.OnUnseen,
		unseen:          make(map[int64]int),
		highlighted:     make(map[int64]bool),
		highlightTimers: make(map[int64]*time.Timer),
	}
}

// OpenThread replaces the previous thread's state with the newest page of
// threadID, resets its unseen counter, and anchors the view at the bottom.
// Only one thread's full list is held at a time.
func (r *Reconciler) OpenThread(ctx context.Context, threadID int64) (ViewEffect, error) {
	r.mu.Lock()
	r.openThreadID = threadID
	r.messages = nil
	r.oldestPage = 1
	r.hasOlder = false
	r.loadingOlder = false
	r.atBottom = true
	delete(r.unseen, threadID)
	r.clearHighlightLocked(threadID)
	r.mu.Unlock()

	page, err := r.loader.ListMessagesByThread(ctx, threadID, 1)
	if err != nil {
		return EffectNone, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openThreadID != threadID {
		// The user moved on while the fetch was in flight; merging now
		// would corrupt the newly opened thread's list.
		r.log.Debug("dropping stale history page", "thread", threadID)
		return EffectNone, nil
	}
	r.messages = mergeByID(nil, page)
	r.hasOlder = len(page) == r.pageSize
	return EffectSnapBottom, nil
}

// LoadOlder prepends the next older page. Guarded against concurrent loads
// and against threads already exhausted; redundant calls are no-ops.
func (r *Reconciler) LoadOlder(ctx context.Context) (ViewEffect, error) {
	r.mu.Lock()
	if r.openThreadID == 0 || !r.hasOlder || r.loadingOlder {
		r.mu.Unlock()
		return EffectNone, nil
	}
	r.loadingOlder = true
	threadID := r.openThreadID
	nextPage := r.oldestPage + 1
	r.mu.Unlock()

	page, err := r.loader.ListMessagesByThread(ctx, threadID, nextPage)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openThreadID != threadID {
		r.log.Debug("dropping stale older page", "thread", threadID, "page", nextPage)
		return EffectNone, nil
	}
	r.loadingOlder = false
	if err != nil {
		return EffectNone, err
	}
	if len(page) == 0 {
		r.hasOlder = false
		return EffectNone, nil
	}
	r.messages = mergeByID(r.messages, page)
	r.oldestPage = nextPage
	r.hasOlder = len(page) == r.pageSize
	return EffectPreserveOffset, nil
}

// AppendLocal merges the caller's own just-created message and snaps the
// view to the bottom. The server-assigned id sorts it after everything
// already loaded; the merge still dedupes in case the push echo won the
// race.
func (r *Reconciler) AppendLocal(msg forum.Message) ViewEffect {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openThreadID == 0 || msg.ThreadID != r.openThreadID {
		return EffectNone
	}
	r.messages = mergeByID(r.messages, []forum.Message{msg})
	r.atBottom = true
	return EffectSnapBottom
}

// DispatchPush routes a live event: into the open thread's list in id
// order (skipping ids already present, which covers the optimistic-send
// echo), or into the unseen counter of a backgrounded thread.
func (r *Reconciler) DispatchPush(push forum.MessagePush) ViewEffect {
	r.mu.Lock()

	if push.ThreadID == r.openThreadID && r.openThreadID != 0 {
		r.messages = mergeByID(r.messages, []forum.Message{push.Message})
		// Only yank the viewport if the reader was already at the bottom;
		// someone scrolled up into history keeps their place.
		effect := EffectNone
		if r.atBottom {
			effect = EffectSnapBottom
		}
		r.mu.Unlock()
		return effect
	}

	r.unseen[push.ThreadID]++
	count := r.unseen[push.ThreadID]
	r.highlighted[push.ThreadID] = true
	r.scheduleHighlightClearLocked(push.ThreadID)
	onUnseen := r.onUnseen
	r.mu.Unlock()

	if onUnseen != nil {
		onUnseen(push, count)
	}
	return EffectNone
}

// SetAtBottom records whether the viewport currently sits at the newest
// message; DispatchPush consults it to decide between snapping and staying.
func (r *Reconciler) SetAtBottom(atBottom bool) {
	r.mu.Lock()
	r.atBottom = atBottom
	r.mu.Unlock()
}

// Messages returns a copy of the open thread's ordered list.
func (r *Reconciler) Messages() []forum.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]forum.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) OpenThreadID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openThreadID
}

func (r *Reconciler) HasOlder() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasOlder
}

// UnseenCount reports how many messages arrived for threadID while it was
// backgrounded.
func (r *Reconciler) UnseenCount(threadID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unseen[threadID]
}

// Highlighted reports the transient "fresh activity" presentation state.
func (r *Reconciler) Highlighted(threadID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.highlighted[threadID]
}

func (r *Reconciler) scheduleHighlightClearLocked(threadID int64) {
	if t, ok := r.highlightTimers[threadID]; ok {
		t.Stop()
	}
	r.highlightTimers[threadID] = time.AfterFunc(r.highlightTTL, func() {
		r.mu.Lock()
		delete(r.highlighted, threadID)
		delete(r.highlightTimers, threadID)
		r.mu.Unlock()
	})
}

func (r *Reconciler) clearHighlightLocked(threadID int64) {
	if t, ok := r.highlightTimers[threadID]; ok {
		t.Stop()
		delete(r.highlightTimers, threadID)
	}
	delete(r.highlighted, threadID)
}

// mergeByID folds add into list, keeping the result strictly ascending by
// id with no duplicates. Every mutation of the ordered list goes through
// here, which is what lets history pages, push events, and local sends
// interleave without destructive races.
func mergeByID(list []forum.Message, add []forum.Message) []forum.Message {
	if len(add) == 0 {
		return list
	}
	seen := make(map[int64]struct{}, len(list)+len(add))
	merged := make([]forum.Message, 0, len(list)+len(add))
	for _, m := range list {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range add {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}
