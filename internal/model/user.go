package model

import "time"

// User is identified solely by its login code.
type User struct {
	ID        int64     `json:"id"`
	LoginCode string    `json:"login_code"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Login records one successful authentication, including signup.
type Login struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}
