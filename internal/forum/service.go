package forum

import (
	"context"

	"forum-client/internal/credentials"
	"forum-client/internal/transport"
)

// Service wraps the transport pipeline with one method per endpoint. Login
// and Logout additionally own the credential store writes for their flows.
type Service struct {
	pipe  *transport.Pipeline
	creds credentials.Store
}

func NewService(pipe *transport.Pipeline, creds credentials.Store) *Service {
	return &Service{pipe: pipe, creds: creds}
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var res LoginResponse
	err := s.pipe.Post(ctx, "/auth/login", LoginRequest{Email: email, Password: password}, &res)
	if err != nil {
		return LoginResponse{}, err
	}
	if res.AccessToken != "" {
		if err := s.creds.Save(credentials.Credential{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
		}); err != nil {
			return LoginResponse{}, err
		}
	}
	return res, nil
}

func (s *Service) Logout() error {
	return s.creds.Clear()
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	var res RegisterResponse
	err := s.pipe.Post(ctx, "/auth/register", req, &res)
	return res, err
}

func (s *Service) VerifyEmail(ctx context.Context, req VerifyEmailRequest) (VerifyEmailResponse, error) {
	var res VerifyEmailResponse
	err := s.pipe.Post(ctx, "/auth/verify", req, &res)
	return res, err
}

func (s *Service) TestEmail(ctx context.Context, email string) (TestEmailResponse, error) {
	var res TestEmailResponse
	err := s.pipe.Post(ctx, "/auth/test-email", TestEmailRequest{Email: email}, &res)
	return res, err
}

func (s *Service) Me(ctx context.Context) (Me, error) {
	var res struct {
		User Me `json:"user"`
	}
	err := s.pipe.Post(ctx, "/users/me", nil, &res)
	return res.User, err
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	var res struct {
		Categories []Category `json:"categories"`
	}
	err := s.pipe.Post(ctx, "/categories", nil, &res)
	return res.Categories, err
}

func (s *Service) CreateThread(ctx context.Context, categoryID int64, title string) (Thread, error) {
	var res struct {
		Thread Thread `json:"thread"`
	}
	err := s.pipe.Post(ctx, "/threads", map[string]any{
		"category_id": categoryID,
		"title":       title,
	}, &res)
	return res.Thread, err
}

func (s *Service) CreateThreadWithMessage(ctx context.Context, categoryID int64, title, content string) (Thread, Message, error) {
	var res struct {
		Thread  Thread  `json:"thread"`
		Message Message `json:"message"`
	}
	err := s.pipe.Post(ctx, "/threads/with-message", map[string]any{
		"category_id": categoryID,
		"title":       title,
		"content":     content,
	}, &res)
	return res.Thread, res.Message, err
}

func (s *Service) ListThreadsByCategory(ctx context.Context, categoryID int64) ([]Thread, error) {
	var res struct {
		Threads []Thread `json:"threads"`
	}
	err := s.pipe.Post(ctx, "/threads/list-by-category", map[string]any{"category_id": categoryID}, &res)
	return res.Threads, err
}

// SearchThreads queries by free text and/or category. Zero arguments mean
// "no filter"; page and limit fall back to server defaults when zero.
func (s *Service) SearchThreads(ctx context.Context, query string, categoryID int64, page, limit int) (ThreadSearchResult, error) {
	req := map[string]any{}
	if query != "" {
		req["q"] = query
	}
	if categoryID != 0 {
		req["category_id"] = categoryID
	}
	if page != 0 {
		req["page"] = page
	}
	if limit != 0 {
		req["limit"] = limit
	}
	var res ThreadSearchResult
	err := s.pipe.Post(ctx, "/threads/search", req, &res)
	return res, err
}

func (s *Service) ShowThread(ctx context.Context, id int64) (Thread, error) {
	var res struct {
		Thread Thread `json:"thread"`
	}
	err := s.pipe.Post(ctx, "/threads/show", map[string]any{"id": id}, &res)
	return res.Thread, err
}

func (s *Service) DeleteThread(ctx context.Context, id int64) error {
	var res struct {
		Success bool `json:"success"`
	}
	return s.pipe.Post(ctx, "/threads/delete", map[string]any{"id": id}, &res)
}

func (s *Service) CreateMessage(ctx context.Context, threadID int64, content string) (Message, error) {
	var res struct {
		Message Message `json:"message"`
	}
	err := s.pipe.Post(ctx, "/messages", map[string]any{
		"thread_id": threadID,
		"content":   content,
	}, &res)
	return res.Message, err
}

// ListMessagesByThread fetches one page of history. Page 1 is the newest
// slice; each higher page is strictly older. Pages are 1-indexed and an
// empty result is the only exhaustion signal the endpoint gives.
func (s *Service) ListMessagesByThread(ctx context.Context, threadID int64, page int) ([]Message, error) {
	var res struct {
		Messages []Message `json:"messages"`
	}
	err := s.pipe.Post(ctx, "/messages/list-by-thread", map[string]any{
		"thread_id": threadID,
		"page":      page,
	}, &res)
	return res.Messages, err
}

func (s *Service) CreateReport(ctx context.Context, messageID int64, reason string) (Report, error) {
	req := map[string]any{"message_id": messageID}
	if reason != "" {
		req["reason"] = reason
	}
	var res struct {
		Report Report `json:"report"`
	}
	err := s.pipe.Post(ctx, "/reports", req, &res)
	return res.Report, err
}
