package stubserver

import (
	"strings"
	"sync"
	"time"

	"forum-client/internal/forum"
)

type User struct {
	ID        int64
	Username  string
	Email     string
	Password  string
	Verified  bool
	CreatedAt time.Time
	LastLogin time.Time
}

// Store is the stub's in-memory forum state. Message ids are assigned from
// one monotonic counter so id order always matches creation order, which is
// the invariant the client's reconciler depends on.
type Store struct {
	mu sync.RWMutex

	users   map[int64]*User
	byEmail map[string]int64

	categories []forum.Category
	threads    map[int64]forum.Thread
	messages   map[int64][]forum.Message
	reports    []forum.Report

	nextUser     int64
	nextCategory int64
	nextThread   int64
	nextMessage  int64
	nextReport   int64
}

func NewStore() *Store {
	return &Store{
		users:    make(map[int64]*User),
		byEmail:  make(map[string]int64),
		threads:  make(map[int64]forum.Thread),
		messages: make(map[int64][]forum.Message),
	}
}

func (s *Store) AddUser(username, email, password string, verified bool) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUser++
	u := &User{
		ID:        s.nextUser,
		Username:  username,
		Email:     email,
		Password:  password,
		Verified:  verified,
		CreatedAt: time.Now(),
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u
}

func (s *Store) Authenticate(email, password string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, false
	}
	u := s.users[id]
	if u.Password != password {
		return nil, false
	}
	u.LastLogin = time.Now()
	return u, true
}

func (s *Store) UserByID(id int64) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Store) MarkVerified(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return false
	}
	s.users[id].Verified = true
	return true
}

func (s *Store) AddCategory(name, description string) forum.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCategory++
	cat := forum.Category{
		ID:          s.nextCategory,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().Format(time.RFC3339),
	}
	s.categories = append(s.categories, cat)
	return cat
}

func (s *Store) Categories() []forum.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]forum.Category, len(s.categories))
	copy(out, s.categories)
	return out
}

func (s *Store) CreateThread(categoryID, userID int64, title string) forum.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextThread++
	t := forum.Thread{
		ID:         s.nextThread,
		CategoryID: categoryID,
		UserID:     userID,
		Title:      title,
		CreatedAt:  time.Now().Format(time.RFC3339),
	}
	s.threads[t.ID] = t
	return t
}

func (s *Store) Thread(id int64) (forum.Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if ok {
		t.MessageCount = len(s.messages[id])
	}
	return t, ok
}

func (s *Store) DeleteThread(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return false
	}
	delete(s.threads, id)
	delete(s.messages, id)
	return true
}

func (s *Store) ThreadsByCategory(categoryID int64) []forum.Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []forum.Thread
	for _, t := range s.threads {
		if t.CategoryID == categoryID {
			t.MessageCount = len(s.messages[t.ID])
			out = append(out, t)
		}
	}
	sortThreads(out)
	return out
}

// SearchThreads filters by substring and category, returning the page plus
// an explicit has_more flag.
func (s *Store) SearchThreads(query string, categoryID int64, page, limit int) ([]forum.Thread, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	query = strings.ToLower(query)
	var matched []forum.Thread
	for _, t := range s.threads {
		if categoryID != 0 && t.CategoryID != categoryID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Title), query) {
			continue
		}
		matched = append(matched, t)
	}
	sortThreads(matched)

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return nil, total, false
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, end < total
}

func sortThreads(threads []forum.Thread) {
	for i := 1; i < len(threads); i++ {
		for j := i; j > 0 && threads[j].ID < threads[j-1].ID; j-- {
			threads[j], threads[j-1] = threads[j-1], threads[j]
		}
	}
}

func (s *Store) AppendMessage(threadID, userID int64, username, content string) (forum.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return forum.Message{}, false
	}
	s.nextMessage++
	msg := forum.Message{
		ID:        s.nextMessage,
		ThreadID:  threadID,
		UserID:    userID,
		Content:   content,
		Username:  username,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	s.messages[threadID] = append(s.messages[threadID], msg)
	return msg, true
}

// MessagesPage returns page (1-indexed) counted back from the newest
// message, ascending by id within the page. Past the end it returns nil,
// which is the endpoint's only exhaustion signal.
func (s *Store) MessagesPage(threadID int64, page, pageSize int) []forum.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	end := len(msgs) - (page-1)*pageSize
	if end <= 0 {
		return nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}
	out := make([]forum.Message, end-start)
	copy(out, msgs[start:end])
	return out
}

func (s *Store) AddReport(messageID, reporterID int64, reason string) forum.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReport++
	rep := forum.Report{
		ID:         s.nextReport,
		MessageID:  messageID,
		ReporterID: reporterID,
		Reason:     reason,
		CreatedAt:  time.Now().Format(time.RFC3339),
	}
	s.reports = append(s.reports, rep)
	return rep
}
