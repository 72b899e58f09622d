package dummy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
	password string
}

type book struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Genre  string `json:"genre"`
}

type content struct {
	ID      int64  `json:"id"`
	BookID  int64  `json:"bookId"`
	Title   string `json:"title"`
	Emotion string `json:"emotionType"`
	Likes   int64  `json:"likes"`
}

type quote struct {
	ID      int64  `json:"id"`
	BookID  int64  `json:"bookId"`
	Content string `json:"content"`
	Page    int    `json:"page"`
}

var (
	titleWords = []string{"Silent", "River", "Mystery", "Garden", "Future", "History", "Stars", "Mind"}
	genres     = []string{"NOVEL", "ESSAY", "SCIENCE", "HISTORY", "SELF_HELP"}
	emotions   = []string{"HAPPY", "SAD", "CALM", "ANGRY", "SURPRISED"}
	// RankTypes are the ranking tiers accepted by /ranking/users.
	RankTypes = []string{"BRONZE", "SILVER", "GOLD", "PLATINUM", "DIAMOND"}
)

// store is the in-memory catalogue and user table of the dummy API.
type store struct {
	mu    sync.RWMutex
	users map[string]*user
	byID  map[int64]*user

	books    []book
	contents []content
	quotes   []quote

	nextUser    atomic.Int64
	nextContent atomic.Int64
	creations   map[int64]int
}

func newStore() *store {
	s := &store{
		users:     make(map[string]*user),
		byID:      make(map[int64]*user),
		creations: make(map[int64]int),
	}
	for i := int64(1); i <= 25; i++ {
		s.books = append(s.books, book{
			ID:     i,
			Title:  fmt.Sprintf("%s %s", titleWords[i%8], titleWords[(i*3)%8]),
			Author: fmt.Sprintf("Author %d", (i%7)+1),
			Genre:  genres[i%int64(len(genres))],
		})
	}
	for i := int64(1); i <= 40; i++ {
		s.contents = append(s.contents, content{
			ID:      i,
			BookID:  (i % 25) + 1,
			Title:   fmt.Sprintf("Short form #%d", i),
			Emotion: emotions[i%int64(len(emotions))],
		})
	}
	for i := int64(1); i <= 15; i++ {
		s.quotes = append(s.quotes, quote{
			ID:      i,
			BookID:  (i % 25) + 1,
			Content: fmt.Sprintf("Quote number %d", i),
			Page:    int(i * 7),
		})
	}
	s.nextContent.Store(1000)
	return s
}

func (s *store) signup(u user) (*user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return nil, fmt.Errorf("username %q is taken", u.Username)
	}
	u.ID = s.nextUser.Add(1)
	s.users[u.Username] = &u
	s.byID[u.ID] = &u
	return &u, nil
}

func (s *store) login(username, password string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok || u.password != password {
		return nil, false
	}
	return u, true
}

func (s *store) user(id int64) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	return u, ok
}

func (s *store) book(id int64) (book, bool) {
	if id < 1 || id > int64(len(s.books)) {
		return book{}, false
	}
	return s.books[id-1], true
}

func (s *store) search(keyword string) []book {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	out := []book{}
	if keyword == "" {
		return out
	}
	for _, b := range s.books {
		if strings.Contains(strings.ToLower(b.Title), keyword) || strings.ToLower(b.Genre) == keyword {
			out = append(out, b)
		}
	}
	return out
}

func (s *store) content(id int64) (content, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contents {
		if c.ID == id {
			return c, true
		}
	}
	return content{}, false
}

func (s *store) like(id int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.contents {
		if s.contents[i].ID == id {
			s.contents[i].Likes++
			return s.contents[i].Likes, true
		}
	}
	return 0, false
}

// create adds a content item for userID unless the daily limit is spent.
func (s *store) create(userID, bookID int64, title, emotion string) (content, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creations[userID] >= creationLimit {
		return content{}, false
	}
	s.creations[userID]++
	c := content{ID: s.nextContent.Add(1), BookID: bookID, Title: title, Emotion: emotion}
	s.contents = append(s.contents, c)
	return c, true
}

func (s *store) remaining(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return creationLimit - s.creations[userID]
}

func (s *store) quotesOf(bookID int64) []quote {
	out := []quote{}
	for _, q := range s.quotes {
		if bookID == 0 || q.BookID == bookID {
			out = append(out, q)
		}
	}
	return out
}

// contentPage copies a page of contents so callers never share the slice.
func (s *store) contentPage(page, size int) ([]content, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageOf(s.contents, page, size), len(s.contents)
}

func (s *store) ranking(rankType string) []map[string]any {
	s.mu.RLock()
	users := make([]*user, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	s.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	out := make([]map[string]any, 0, len(users))
	for i, u := range users {
		out = append(out, map[string]any{
			"rank":     i + 1,
			"userId":   u.ID,
			"nickname": u.Nickname,
			"rankType": rankType,
			"score":    1000 - i*10,
		})
	}
	return out
}

func pageOf[T any](items []T, page, size int) []T {
	start := page * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}
