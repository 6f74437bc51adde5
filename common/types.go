package common

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`

	// Email may stand in for Username.
	Email string `json:"email,omitempty"`
}

type LoginResponse struct {
	Message string `json:"message"`

	Token string `json:"token,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MessageResponse is the body of every reply that carries nothing but a message.
type MessageResponse struct {
	Message string `json:"message"`
}

type FilesResponse struct {
	Files []string `json:"files"`
}
