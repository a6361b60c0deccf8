package api

// DataResponse wraps every successful payload.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Errors []ErrorItem `json:"errors"`
}

// ErrorItem describes one error.
type ErrorItem struct {
	Message    string          `json:"message"`
	Extensions ErrorExtensions `json:"extensions"`
}

// ErrorExtensions carries the machine-readable error code.
type ErrorExtensions struct {
	Code string `json:"code"`
}

func newErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Errors: []ErrorItem{{
		Message:    message,
		Extensions: ErrorExtensions{Code: code},
	}}}
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest represents a token refresh or logout request.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse represents an authentication token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
}

// CreateUserRequest represents a user creation request.
type CreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// MessageRequest is the body of message create and update calls.
type MessageRequest struct {
	Text *string `json:"text"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
