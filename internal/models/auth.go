package models

// Credentials is the payload for POST /api/login/.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupRequest is the payload for POST /api/signup/.
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// TokenPair is the JWT pair returned by login and token refresh.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginResponse is the body returned by POST /api/login/.
type LoginResponse struct {
	Access     string `json:"access"`
	Refresh    string `json:"refresh"`
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	IsProvider bool   `json:"is_provider,omitempty"`
}
