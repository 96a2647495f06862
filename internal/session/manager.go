package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fintrack/internal/dto"
	"fintrack/internal/log"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator is the subset of the remote client used to sign in.
type Authenticator interface {
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	Register(ctx context.Context, req dto.RegisterRequest) (dto.AuthResponse, error)
}

// Manager signs users in and out and persists the resulting session.
type Manager struct {
	auth  Authenticator
	store Store
}

func NewManager(auth Authenticator, store Store) *Manager {
	return &Manager{auth: auth, store: store}
}

// Current returns the persisted session.
func (m *Manager) Current(ctx context.Context) (Context, error) {
	return m.store.Load(ctx)
}

func (m *Manager) Login(ctx context.Context, firebaseUID string) (Context, error) {
	if firebaseUID == "" {
		return Anonymous, errors.New("firebase uid is required")
	}
	resp, err := m.auth.Login(ctx, dto.LoginRequest{FirebaseUID: firebaseUID})
	if err != nil {
		return Anonymous, fmt.Errorf("login: %w", err)
	}
	return m.adopt(ctx, log.OpLogin, resp)
}

func (m *Manager) Register(ctx context.Context, firebaseUID, name, email, currency string) (Context, error) {
	if firebaseUID == "" || email == "" {
		return Anonymous, errors.New("firebase uid and email are required")
	}
	resp, err := m.auth.Register(ctx, dto.NewRegisterRequest(firebaseUID, name, email, currency))
	if err != nil {
		return Anonymous, fmt.Errorf("register: %w", err)
	}
	return m.adopt(ctx, log.OpRegister, resp)
}

// Logout forgets the persisted session. Local data is kept.
func (m *Manager) Logout(ctx context.Context) error {
	return m.store.Clear(ctx)
}

func (m *Manager) adopt(ctx context.Context, op string, resp dto.AuthResponse) (Context, error) {
	s := Context{Token: resp.Token}
	if resp.User != nil {
		s.UserID = resp.User.ID
		s.Email = resp.User.Email
		s.Name = resp.User.Name
	}
	if s.UserID == "" {
		id, err := UserIDFromToken(resp.Token)
		if err != nil {
			return Anonymous, fmt.Errorf("%s: %w", op, err)
		}
		s.UserID = id
	}
	if err := m.store.Save(ctx, s); err != nil {
		return Anonymous, fmt.Errorf("%s: persist session: %w", op, err)
	}
	slog.InfoContext(ctx, "Session established",
		log.FieldComponent, log.ComponentSession,
		log.FieldOperation, op,
		log.FieldUserID, s.UserID)
	return s, nil
}

// UserIDFromToken reads the user id claim of a backend token. The signature
// is not checked; the backend verifies it on every request.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range []string{"userId", "id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", errors.New("token carries no user id claim")
}
