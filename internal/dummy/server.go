// Package dummy runs a local stand-in for the journey's target API. It speaks
// the same envelopes (standard, paged and bare array), issues JWT-shaped
// tokens with a userId claim and injects latency and errors on demand.
package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const creationLimit = 5

type ServerConfig struct {
	Port int
	// ErrorRate is the share of requests answered with a random 500 or 429.
	ErrorRate float64
	// MaxJitter adds a uniform random delay up to this value per request.
	MaxJitter time.Duration
	Log       *zap.Logger
}

type apiResponse struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type pageBody struct {
	Content       any `json:"content"`
	TotalElements int `json:"totalElements"`
	Number        int `json:"number"`
	Size          int `json:"size"`
}

// Server is the dummy API.
type Server struct {
	cfg    ServerConfig
	store  *store
	tokens *issuer
	log    *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		store:  newStore(),
		tokens: newIssuer(),
		log:    cfg.Log,
	}
}

// Handler returns the routed API with chaos injection applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /auth/signup", s.signup)
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("POST /auth/logout", s.authed(func(w http.ResponseWriter, r *http.Request, _ int64) {
		ok(w, "logged out", nil)
	}))

	// Search
	mux.HandleFunc("GET /search/popular-terms", s.popularTerms)
	mux.HandleFunc("GET /search", s.search)

	// Books
	mux.HandleFunc("GET /books", s.books)
	mux.HandleFunc("GET /books/recommended", s.authed(s.recommendedBooks))
	mux.HandleFunc("GET /books/{id}", s.bookDetail)

	// Contents
	mux.HandleFunc("GET /contents", s.contents)
	mux.HandleFunc("GET /contents/recommended", s.authed(func(w http.ResponseWriter, r *http.Request, _ int64) {
		ok(w, "", []content{})
	}))
	mux.HandleFunc("GET /contents/creation-limit", s.authed(func(w http.ResponseWriter, r *http.Request, uid int64) {
		ok(w, "", map[string]any{"remaining": s.store.remaining(uid), "limit": creationLimit})
	}))
	mux.HandleFunc("GET /contents/{id}", s.contentDetail)
	mux.HandleFunc("POST /contents/create", s.authed(s.createContent))
	mux.HandleFunc("POST /contents/interaction", s.authed(s.interaction))
	mux.HandleFunc("GET /quotes", s.quotes)

	// Interactions
	mux.HandleFunc("POST /likes/content/{id}", s.authed(s.like))
	mux.HandleFunc("POST /bookmarks/content/{id}", s.authed(s.bookmark))

	// Ranking and profile
	mux.HandleFunc("GET /ranking/users", s.ranking)
	mux.HandleFunc("GET /ranking/user/{id}/score", s.authed(s.score))
	mux.HandleFunc("GET /users/{id}", s.authed(s.profile))

	return s.chaos(mux)
}

// Start listens on cfg.Port in the background. The returned server is
// stopped with Shutdown.
func Start(cfg ServerConfig) (*http.Server, error) {
	s := NewServer(cfg)
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("dummy server: %w", err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("dummy server running", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dummy server failed", zap.Error(err))
		}
	}()
	return server, nil
}

// Run serves until ctx ends.
func Run(ctx context.Context, cfg ServerConfig) error {
	server, err := Start(cfg)
	if err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) chaos(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxJitter > 0 {
			time.Sleep(time.Duration(rand.Int63n(int64(s.cfg.MaxJitter))))
		}
		if s.cfg.ErrorRate > 0 && rand.Float64() < s.cfg.ErrorRate {
			if rand.Intn(2) == 0 {
				fail(w, http.StatusInternalServerError, "internal server error")
			} else {
				fail(w, http.StatusTooManyRequests, "too many requests")
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID int64)

func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r.Header.Get("Authorization"))
		if token == "" {
			fail(w, http.StatusUnauthorized, "authentication required")
			return
		}
		uid, err := s.tokens.verify(token)
		if err != nil {
			fail(w, http.StatusUnauthorized, "invalid token")
			return
		}
		h(w, r, uid)
	}
}

// --- Handlers ---

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		fail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.store.signup(user{Username: req.Username, Email: req.Email, Nickname: req.Nickname, password: req.Password})
	if err != nil {
		fail(w, http.StatusConflict, err.Error())
		return
	}
	ok(w, "signed up", map[string]any{"id": u.ID, "username": u.Username})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	u, found := s.store.login(req.Username, req.Password)
	if !found {
		fail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.tokens.sign(u.ID, u.Username)
	if err != nil {
		fail(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	ok(w, "logged in", map[string]any{"accessToken": token, "tokenType": "Bearer"})
}

func (s *Server) popularTerms(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 10)
	terms := make([]map[string]any, 0, len(titleWords))
	for i, word := range titleWords {
		if i >= limit {
			break
		}
		terms = append(terms, map[string]any{"term": word, "count": (len(titleWords) - i) * 13})
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		ok(w, "keyword is empty", nil)
		return
	}
	found := s.store.search(keyword)
	ok(w, "", map[string]any{"books": found, "totalElements": len(found)})
}

func (s *Server) books(w http.ResponseWriter, r *http.Request) {
	page, size := paging(r)
	ok(w, "", pageBody{
		Content:       pageOf(s.store.books, page, size),
		TotalElements: len(s.store.books),
		Number:        page,
		Size:          size,
	})
}

func (s *Server) bookDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid book id")
		return
	}
	b, found := s.store.book(id)
	if !found {
		fail(w, http.StatusNotFound, "book not found")
		return
	}
	ok(w, "", b)
}

func (s *Server) recommendedBooks(w http.ResponseWriter, r *http.Request, uid int64) {
	picks := make([]book, 0, 3)
	for i := int64(0); i < 3; i++ {
		b, _ := s.store.book(((uid + i) % int64(len(s.store.books))) + 1)
		picks = append(picks, b)
	}
	ok(w, "", picks)
}

// contents answers with a bare paged object, without the result wrapper.
func (s *Server) contents(w http.ResponseWriter, r *http.Request) {
	page, size := paging(r)
	items, total := s.store.contentPage(page, size)
	writeJSON(w, http.StatusOK, pageBody{Content: items, TotalElements: total, Number: page, Size: size})
}

func (s *Server) contentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid content id")
		return
	}
	c, found := s.store.content(id)
	if !found {
		fail(w, http.StatusNotFound, "content not found")
		return
	}
	ok(w, "", c)
}

func (s *Server) quotes(w http.ResponseWriter, r *http.Request) {
	bookID := int64(intParam(r, "bookId", 0))
	ok(w, "", s.store.quotesOf(bookID))
}

func (s *Server) createContent(w http.ResponseWriter, r *http.Request, uid int64) {
	var req struct {
		BookID      int64  `json:"bookId"`
		Title       string `json:"title"`
		Content     string `json:"content"`
		EmotionType string `json:"emotionType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, found := s.store.book(req.BookID); !found {
		fail(w, http.StatusNotFound, "book not found")
		return
	}
	c, created := s.store.create(uid, req.BookID, req.Title, req.EmotionType)
	if !created {
		fail(w, http.StatusTooManyRequests, "daily creation limit reached")
		return
	}
	writeJSON(w, http.StatusCreated, apiResponse{Result: "SUCCESS", Message: "created", Data: c})
}

func (s *Server) interaction(w http.ResponseWriter, r *http.Request, _ int64) {
	var req struct {
		ContentID       json.Number `json:"contentId"`
		InteractionType string      `json:"interactionType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	switch req.InteractionType {
	case "VIEW", "LIKE", "BOOKMARK", "SHARE", "COMMENT":
	default:
		fail(w, http.StatusBadRequest, "unsupported interaction type")
		return
	}
	ok(w, "recorded", nil)
}

func (s *Server) like(w http.ResponseWriter, r *http.Request, _ int64) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid content id")
		return
	}
	likes, found := s.store.like(id)
	if !found {
		fail(w, http.StatusNotFound, "content not found")
		return
	}
	ok(w, "", map[string]any{"contentId": id, "liked": true, "likes": likes})
}

func (s *Server) bookmark(w http.ResponseWriter, r *http.Request, _ int64) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid content id")
		return
	}
	if _, found := s.store.content(id); !found {
		fail(w, http.StatusNotFound, "content not found")
		return
	}
	ok(w, "", map[string]any{})
}

func (s *Server) ranking(w http.ResponseWriter, r *http.Request) {
	rankType := r.URL.Query().Get("rankType")
	valid := false
	for _, t := range RankTypes {
		if t == rankType {
			valid = true
			break
		}
	}
	if !valid {
		fail(w, http.StatusBadRequest, "unknown rankType")
		return
	}
	page, size := paging(r)
	ranked := s.store.ranking(rankType)
	ok(w, "", pageBody{Content: pageOf(ranked, page, size), TotalElements: len(ranked), Number: page, Size: size})
}

func (s *Server) score(w http.ResponseWriter, r *http.Request, uid int64) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id != uid {
		fail(w, http.StatusForbidden, "score of another user")
		return
	}
	ok(w, "", map[string]any{"userId": uid, "score": 100 + uid})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request, uid int64) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if id != uid {
		fail(w, http.StatusForbidden, "profile of another user")
		return
	}
	u, found := s.store.user(id)
	if !found {
		fail(w, http.StatusNotFound, "user not found")
		return
	}
	ok(w, "", u)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Result: "SUCCESS", Message: message, Data: data})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Result: "ERROR", Message: message})
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func paging(r *http.Request) (page, size int) {
	page = intParam(r, "page", 0)
	size = intParam(r, "size", 10)
	if size == 0 || size > 50 {
		size = 10
	}
	return page, size
}
