package models

// RegisterRequest represents the request body for user registration
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Bio      string `json:"bio" binding:"required"`
	Avatar   string `json:"avatar" binding:"required"`
}

// LoginRequest represents the request body for user sign-in
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest represents the request body for a profile update.
// Password is optional: empty means "keep the existing one".
type UpdateProfileRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
	Bio      string `json:"bio" binding:"required"`
	Avatar   string `json:"avatar" binding:"required"`
}

// VerifyPasswordRequest represents the request body for re-authentication
// before a sensitive action.
type VerifyPasswordRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}
