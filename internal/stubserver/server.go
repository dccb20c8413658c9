// Package stubserver is an in-process forum backend speaking the same wire
// protocol as the real service: sealed request/response envelopes, bearer
// auth with short-lived access tokens, and a socket.io push channel. It
// backs the client's tests and the `forumcli stub` command.
package stubserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"forum-client/internal/envelope"
	"forum-client/internal/forum"
)

const DefaultPageSize = 20

type Options struct {
	Codec         *envelope.Codec
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	PageSize      int
	Logger        *slog.Logger
}

type Server struct {
	store    *Store
	codec    *envelope.Codec
	tokens   TokenConfig
	pageSize int
	log      *slog.Logger
	engine   *gin.Engine
	push     *pushHub
}

func New(opts Options) *Server {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	accessExpiry := opts.AccessExpiry
	if accessExpiry <= 0 {
		accessExpiry = 15 * time.Minute
	}
	refreshExpiry := opts.RefreshExpiry
	if refreshExpiry <= 0 {
		refreshExpiry = 7 * 24 * time.Hour
	}

	tokens := TokenConfig{
		Secret:        opts.Secret,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
		Issuer:        "forum-stub",
	}
	s := &Server{
		store:    NewStore(),
		codec:    opts.Codec,
		tokens:   tokens,
		pageSize: pageSize,
		log:      log,
	}
	s.push = newPushHub(tokens, log)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/auth/login", s.handleLogin)
	r.POST("/auth/refresh", s.handleRefresh)
	r.POST("/auth/register", s.handleRegister)
	r.POST("/auth/verify", s.handleVerify)
	r.POST("/auth/test-email", s.handleTestEmail)

	protected := r.Group("/")
	protected.Use(s.requireAuth)
	protected.POST("/users/me", s.handleMe)
	protected.POST("/categories", s.handleCategories)
	protected.POST("/threads", s.handleCreateThread)
	protected.POST("/threads/with-message", s.handleCreateThreadWithMessage)
	protected.POST("/threads/list-by-category", s.handleThreadsByCategory)
	protected.POST("/threads/search", s.handleSearchThreads)
	protected.POST("/threads/show", s.handleShowThread)
	protected.POST("/threads/delete", s.handleDeleteThread)
	protected.POST("/messages", s.handleCreateMessage)
	protected.POST("/messages/list-by-thread", s.handleMessagesByThread)
	protected.POST("/reports", s.handleCreateReport)

	r.GET("/socket.io/", func(c *gin.Context) {
		s.push.serve(c.Writer, c.Request)
	})

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Store exposes the backing state so tests and the stub command can seed it.
func (s *Server) Store() *Store { return s.store }

func (s *Server) readSealed(c *gin.Context, out any) bool {
	var env envelope.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		s.writeSealed(c, http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return false
	}
	plain, err := s.codec.Open(env)
	if err != nil {
		s.writeSealed(c, http.StatusBadRequest, gin.H{"message": "request body did not decrypt"})
		return false
	}
	if out == nil || plain == "" {
		return true
	}
	if err := json.Unmarshal([]byte(plain), out); err != nil {
		s.writeSealed(c, http.StatusBadRequest, gin.H{"message": "malformed request body"})
		return false
	}
	return true
}

func (s *Server) writeSealed(c *gin.Context, status int, body any) {
	plain, err := json.Marshal(body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "encoding failed"})
		return
	}
	env, err := s.codec.Seal(string(plain))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "sealing failed"})
		return
	}
	c.JSON(status, env)
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		s.writeSealed(c, http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
		c.Abort()
		return
	}
	userID, err := s.tokens.Verify(header[len(prefix):], "access")
	if err != nil {
		s.writeSealed(c, http.StatusUnauthorized, gin.H{"message": "invalid or expired token"})
		c.Abort()
		return
	}
	c.Set("userID", userID)
	c.Next()
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

func (s *Server) handleLogin(c *gin.Context) {
	var req forum.LoginRequest
	if !s.readSealed(c, &req) {
		return
	}
	user, ok := s.store.Authenticate(req.Email, req.Password)
	if !ok {
		s.writeSealed(c, http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	access, err := s.tokens.MintAccess(user.ID)
	if err != nil {
		s.writeSealed(c, http.StatusInternalServerError, gin.H{"message": "token minting failed"})
		return
	}
	refresh, err := s.tokens.MintRefresh(user.ID)
	if err != nil {
		s.writeSealed(c, http.StatusInternalServerError, gin.H{"message": "token minting failed"})
		return
	}
	s.writeSealed(c, http.StatusOK, forum.LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         authUser(user),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	userID, err := s.tokens.Verify(req.RefreshToken, "refresh")
	if err != nil {
		s.writeSealed(c, http.StatusUnauthorized, gin.H{"message": "invalid refresh token"})
		return
	}
	access, err := s.tokens.MintAccess(userID)
	if err != nil {
		s.writeSealed(c, http.StatusInternalServerError, gin.H{"message": "token minting failed"})
		return
	}
	refresh, err := s.tokens.MintRefresh(userID)
	if err != nil {
		s.writeSealed(c, http.StatusInternalServerError, gin.H{"message": "token minting failed"})
		return
	}
	s.writeSealed(c, http.StatusOK, gin.H{"accessToken": access, "refreshToken": refresh})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req forum.RegisterRequest
	if !s.readSealed(c, &req) {
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		s.writeSealed(c, http.StatusBadRequest, gin.H{"message": "missing fields"})
		return
	}
	user := s.store.AddUser(req.Username, req.Email, req.Password, false)
	u := authUser(user)
	s.writeSealed(c, http.StatusOK, forum.RegisterResponse{Message: "registered", User: &u})
}

func (s *Server) handleVerify(c *gin.Context) {
	var req forum.VerifyEmailRequest
	if !s.readSealed(c, &req) {
		return
	}
	verified := s.store.MarkVerified(req.Email)
	s.writeSealed(c, http.StatusOK, forum.VerifyEmailResponse{
		Message:      "ok",
		Verified:     verified,
		AttemptsLeft: 3,
	})
}

func (s *Server) handleTestEmail(c *gin.Context) {
	var req forum.TestEmailRequest
	if !s.readSealed(c, &req) {
		return
	}
	s.writeSealed(c, http.StatusOK, forum.TestEmailResponse{Message: "sent"})
}

func (s *Server) handleMe(c *gin.Context) {
	if !s.readSealed(c, nil) {
		return
	}
	user, ok := s.store.UserByID(currentUserID(c))
	if !ok {
		s.writeSealed(c, http.StatusNotFound, gin.H{"message": "user not found"})
		return
	}
	s.writeSealed(c, http.StatusOK, gin.H{"user": forum.Me{
		ID:         user.ID,
		Username:   user.Username,
		Email:      user.Email,
		Role:       "user",
		IsVerified: user.Verified,
		CreatedAt:  user.CreatedAt.Format(time.RFC3339),
		LastLogin:  user.LastLogin.Format(time.RFC3339),
	}})
}

func (s *Server) handleCategories(c *gin.Context) {
	if !s.readSealed(c, nil) {
		return
	}
	s.writeSealed(c, http.StatusOK, gin.H{"categories": s.store.Categories()})
}

func (s *Server) handleCreateThread(c *gin.Context) {
	var req struct {
		CategoryID int64  `json:"category_id"`
		Title      string `json:"title"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	thread := s.store.CreateThread(req.CategoryID, currentUserID(c), req.Title)
	s.writeSealed(c, http.StatusOK, gin.H{"thread": thread})
}

func (s *Server) handleCreateThreadWithMessage(c *gin.Context) {
	var req struct {
		CategoryID int64  `json:"category_id"`
		Title      string `json:"title"`
		Content    string `json:"content"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	userID := currentUserID(c)
	thread := s.store.CreateThread(req.CategoryID, userID, req.Title)
	msg, _ := s.store.AppendMessage(thread.ID, userID, s.username(userID), req.Content)
	s.broadcastMessage(msg, thread)
	msg.Align = forum.AlignRight
	s.writeSealed(c, http.StatusOK, gin.H{"thread": thread, "message": msg})
}

func (s *Server) handleThreadsByCategory(c *gin.Context) {
	var req struct {
		CategoryID int64 `json:"category_id"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	s.writeSealed(c, http.StatusOK, gin.H{"threads": s.store.ThreadsByCategory(req.CategoryID)})
}

func (s *Server) handleSearchThreads(c *gin.Context) {
	var req struct {
		Q          string `json:"q"`
		CategoryID int64  `json:"category_id"`
		Page       int    `json:"page"`
		Limit      int    `json:"limit"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}
	items, total, hasMore := s.store.SearchThreads(req.Q, req.CategoryID, req.Page, req.Limit)
	if items == nil {
		items = []forum.Thread{}
	}
	s.writeSealed(c, http.StatusOK, forum.ThreadSearchResult{
		Items:   items,
		Page:    req.Page,
		Limit:   req.Limit,
		Total:   total,
		HasMore: hasMore,
	})
}

func (s *Server) handleShowThread(c *gin.Context) {
	var req struct {
		ID int64 `json:"id"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	thread, ok := s.store.Thread(req.ID)
	if !ok {
		s.writeSealed(c, http.StatusNotFound, gin.H{"message": "thread not found"})
		return
	}
	s.writeSealed(c, http.StatusOK, gin.H{"thread": thread})
}

func (s *Server) handleDeleteThread(c *gin.Context) {
	var req struct {
		ID int64 `json:"id"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	s.writeSealed(c, http.StatusOK, gin.H{"success": s.store.DeleteThread(req.ID)})
}

func (s *Server) handleCreateMessage(c *gin.Context) {
	var req struct {
		ThreadID int64  `json:"thread_id"`
		Content  string `json:"content"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	userID := currentUserID(c)
	msg, ok := s.store.AppendMessage(req.ThreadID, userID, s.username(userID), req.Content)
	if !ok {
		s.writeSealed(c, http.StatusNotFound, gin.H{"message": "thread not found"})
		return
	}
	thread, _ := s.store.Thread(req.ThreadID)
	s.broadcastMessage(msg, thread)
	msg.Align = forum.AlignRight
	s.writeSealed(c, http.StatusOK, gin.H{"message": msg})
}

func (s *Server) handleMessagesByThread(c *gin.Context) {
	var req struct {
		ThreadID int64 `json:"thread_id"`
		Page     int   `json:"page"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	msgs := s.store.MessagesPage(req.ThreadID, req.Page, s.pageSize)
	if msgs == nil {
		msgs = []forum.Message{}
	}
	s.writeSealed(c, http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleCreateReport(c *gin.Context) {
	var req struct {
		MessageID int64  `json:"message_id"`
		Reason    string `json:"reason"`
	}
	if !s.readSealed(c, &req) {
		return
	}
	rep := s.store.AddReport(req.MessageID, currentUserID(c), req.Reason)
	s.writeSealed(c, http.StatusOK, gin.H{"report": rep})
}

func (s *Server) username(userID int64) string {
	if u, ok := s.store.UserByID(userID); ok {
		return u.Username
	}
	return ""
}

func (s *Server) broadcastMessage(msg forum.Message, thread forum.Thread) {
	categoryName := ""
	for _, cat := range s.store.Categories() {
		if cat.ID == thread.CategoryID {
			categoryName = cat.Name
			break
		}
	}
	s.push.broadcastNewMessage(msg, thread.Title, categoryName, thread.CategoryID)
}

func authUser(u *User) forum.AuthUser {
	return forum.AuthUser{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		Role:       "user",
		IsVerified: u.Verified,
	}
}
