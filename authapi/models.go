package authapi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role values used across the FreeWork backend.
const (
	RoleCustomer   = "CUSTOMER"
	RoleFreelancer = "FREELANCER"
	RoleAdmin      = "ADMIN"
)

// User is the canonical user record.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Role           string    `json:"role"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the registration request body.
type RegisterRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResult is the canonical, already-normalized token exchange response.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	User         *User
}

// ErrUnexpectedShape is returned when a server response matches none of the
// known deployment shapes. Silent field defaulting is deliberately not done.
var ErrUnexpectedShape = errors.New("unrecognized auth response shape")

// authResponseWire accepts the union of known deployment shapes.
// Deployments disagree on field names (accessToken vs token, user vs
// userDetails); normalize maps them onto one canonical AuthResult.
type authResponseWire struct {
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	User         *User  `json:"user"`
	UserDetails  *User  `json:"userDetails"`
}

func (w authResponseWire) normalize() (AuthResult, error) {
	access := strings.TrimSpace(w.AccessToken)
	if access == "" {
		access = strings.TrimSpace(w.Token)
	}
	if access == "" {
		return AuthResult{}, fmt.Errorf("%w: no access token field", ErrUnexpectedShape)
	}
	if strings.TrimSpace(w.RefreshToken) == "" {
		return AuthResult{}, fmt.Errorf("%w: no refresh token field", ErrUnexpectedShape)
	}

	user := w.User
	if user == nil {
		user = w.UserDetails
	}

	tokenType := w.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return AuthResult{
		AccessToken:  access,
		RefreshToken: w.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    time.Duration(w.ExpiresIn) * time.Second,
		User:         user,
	}, nil
}
