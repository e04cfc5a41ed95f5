package models

// User - пользователь FinSight
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    Timestamp `json:"createdAt" db:"created_at"`
}

// LoginRequest - тело POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse - ответ на успешный логин
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
