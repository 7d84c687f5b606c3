package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	maxUserNameLength = 255
)

// User errors
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUserEmailExists  = errors.New("user with this email already exists")
	ErrInvalidUserName  = errors.New("invalid user name")
	ErrInvalidUserEmail = errors.New("invalid email format")
	ErrInvalidUserRole  = errors.New("invalid user role")
	ErrInvalidID        = errors.New("invalid identifier")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type UserRole string

// User role constants
const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

func (r UserRole) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

func (r UserRole) Label() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleUser:
		return "User"
	default:
		return ""
	}
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) AuditEntity() string { return "User" }

func (u *User) AuditKey() int64 { return u.ID }

func (u *User) AuditAttributes() map[string]any {
	return map[string]any{
		"name":  u.Name,
		"email": u.Email,
		"role":  string(u.Role),
	}
}

type CreateUserRequest struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Role  UserRole `json:"role"`
}

type UpdateUserRequest struct {
	Name  *string   `json:"name,omitempty"`
	Email *string   `json:"email,omitempty"`
	Role  *UserRole `json:"role,omitempty"`
}

// UserFilter narrows a user listing. Name and email match exactly.
type UserFilter struct {
	Name  *string
	Email *string
	Role  *UserRole
	Paging
}

func (f UserFilter) Validate() error {
	if f.Email != nil {
		if err := ValidateUserEmail(*f.Email); err != nil {
			return err
		}
	}
	if f.Role != nil && !f.Role.Valid() {
		return ErrInvalidUserRole
	}
	return nil
}

type UserPage struct {
	Users  []User
	Paging Paging
	Total  int
}

func ValidateUserName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxUserNameLength {
		return ErrInvalidUserName
	}
	return nil
}

func ValidateUserEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidUserEmail
	}
	return nil
}
