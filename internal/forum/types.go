// Package forum holds the typed surface of the discussion service: the wire
// DTOs and a Service exposing one method per endpoint.
package forum

// AuthUser is the profile embedded in the login response.
type AuthUser struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	Username   string `json:"username"`
	Role       string `json:"role"`
	IsVerified bool   `json:"is_verified"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         AuthUser `json:"user"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Message string    `json:"message"`
	User    *AuthUser `json:"user,omitempty"`
}

type VerifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type VerifyEmailResponse struct {
	Message      string `json:"message"`
	Verified     bool   `json:"verified"`
	AttemptsLeft int    `json:"attempts_left"`
}

type TestEmailRequest struct {
	Email string `json:"email"`
}

type TestEmailResponse struct {
	Message string `json:"message"`
}

type Me struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	IsVerified bool   `json:"is_verified"`
	CreatedAt  string `json:"created_at"`
	LastLogin  string `json:"last_login"`
}

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type Thread struct {
	ID           int64  `json:"id"`
	CategoryID   int64  `json:"category_id"`
	UserID       int64  `json:"user_id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	MessageCount int    `json:"message_count,omitempty"`
}

// ThreadSearchResult is the one paginated response with an explicit
// has_more flag; message history relies on empty-page exhaustion instead.
type ThreadSearchResult struct {
	Items   []Thread `json:"items"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
	Total   int      `json:"total"`
	HasMore bool     `json:"has_more"`
}

type Align string

const (
	AlignLeft  Align = "left"
	AlignRight Align = "right"
)

// Message is immutable once created. Within a thread, ID strictly increases
// with creation time; the feed reconciler leans on that.
type Message struct {
	ID        int64  `json:"id"`
	ThreadID  int64  `json:"thread_id"`
	UserID    int64  `json:"user_id"`
	Content   string `json:"content"`
	IPAddress string `json:"ip_address,omitempty"`
	CreatedAt string `json:"created_at"`
	Align     Align  `json:"align,omitempty"`
	Username  string `json:"username,omitempty"`
}

// MessagePush is the realtime new_message event: the message plus routing
// hints the server adds for rendering and background-thread bookkeeping.
type MessagePush struct {
	Message
	IsMine       bool   `json:"is_mine"`
	ThreadTitle  string `json:"thread_title,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
	CategoryID   int64  `json:"category_id,omitempty"`
}

type Report struct {
	ID         int64  `json:"id"`
	MessageID  int64  `json:"message_id"`
	ReporterID int64  `json:"reporter_id"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
}
