// Package resourceowner authenticates end users for the password grant.
package resourceowner

import (
	"context"
	"errors"
	"maps"

	"golang.org/x/crypto/bcrypt"

	"cfszone_connect/answer_uma_provider/internal/model"
)

var ErrInvalidCredentials = errors.New("invalid resource owner credentials")

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.ResourceOwner, error)
}

// User is a locally configured resource owner. PasswordHash is a bcrypt hash.
type User struct {
	Username     string         `json:"username"`
	Subject      string         `json:"subject,omitempty"`
	PasswordHash string         `json:"password_hash"`
	Claims       map[string]any `json:"claims,omitempty"`
}

// StaticAuthenticator checks credentials against a fixed user list.
type StaticAuthenticator struct {
	users     map[string]User
	dummyHash []byte
}

func NewStaticAuthenticator(users []User) (*StaticAuthenticator, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("unused"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]User, len(users))
	for _, user := range users {
		if user.Username == "" {
			return nil, errors.New("user without username")
		}
		if _, err = bcrypt.Cost([]byte(user.PasswordHash)); err != nil {
			return nil, errors.New("user " + user.Username + " has an invalid password hash")
		}
		byName[user.Username] = user
	}
	return &StaticAuthenticator{users: byName, dummyHash: dummy}, nil
}

func (a *StaticAuthenticator) Authenticate(ctx context.Context, username, password string) (*model.ResourceOwner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, ok := a.users[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	subject := user.Subject
	if subject == "" {
		subject = user.Username
	}
	claims := maps.Clone(user.Claims)
	if claims == nil {
		claims = make(map[string]any)
	}
	if _, ok := claims["preferred_username"]; !ok {
		claims["preferred_username"] = user.Username
	}
	return &model.ResourceOwner{Subject: subject, Claims: claims}, nil
}

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
