package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fintrack/internal/dto"

	"github.com/golang-jwt/jwt/v5"
)

func TestContextAccessors(t *testing.T) {
	if Anonymous.Authenticated() || Anonymous.CurrentUserID() != "" {
		t.Fatalf("zero session must be anonymous")
	}
	if _, ok := (Context{UserID: "u1", Token: "  "}).CurrentBearer(); ok {
		t.Fatalf("blank token is not a credential")
	}
	s := Context{UserID: "u1", Token: "abc"}
	tok, ok := s.CurrentBearer()
	if !ok || tok != "abc" || !s.Authenticated() {
		t.Fatalf("unexpected bearer %q %v", tok, ok)
	}
	if s.String() != "user u1" {
		t.Fatalf("unexpected String %q", s.String())
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFileStore(path)

	s, err := store.Load(ctx)
	if err != nil || s != Anonymous {
		t.Fatalf("missing file should load as anonymous, got %+v %v", s, err)
	}

	want := Context{UserID: "u1", Token: "t", Email: "a@b.c", Name: "Ann"}
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}

	got, err := NewFileStore(path).Load(ctx)
	if err != nil || got != want {
		t.Fatalf("expected %+v, got %+v (%v)", want, got, err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second clear should be a no-op, got %v", err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

type fakeAuth struct {
	resp dto.AuthResponse
	err  error
	reg  dto.RegisterRequest
}

func (f *fakeAuth) Login(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
	return f.resp, f.err
}

func (f *fakeAuth) Register(_ context.Context, req dto.RegisterRequest) (dto.AuthResponse, error) {
	f.reg = req
	return f.resp, f.err
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestManagerLogin(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "s.json"))

	auth := &fakeAuth{resp: dto.AuthResponse{Success: true, Token: "tok", User: &dto.UserDTO{ID: "u1", Email: "a@b.c"}}}
	m := NewManager(auth, store)
	s, err := m.Login(ctx, "fb-1")
	if err != nil || s.UserID != "u1" || s.Token != "tok" {
		t.Fatalf("unexpected session %+v err=%v", s, err)
	}
	persisted, _ := m.Current(ctx)
	if persisted != s {
		t.Fatalf("session not persisted: %+v", persisted)
	}

	if err := m.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if cur, _ := m.Current(ctx); cur.Authenticated() {
		t.Fatalf("logout should clear the session")
	}
}

func TestManagerUserIDFromToken(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "s.json"))
	auth := &fakeAuth{resp: dto.AuthResponse{Success: true, Token: signed(t, jwt.MapClaims{"userId": "u7"})}}

	s, err := NewManager(auth, store).Register(ctx, "fb", "Ann", "a@b.c", "")
	if err != nil || s.UserID != "u7" {
		t.Fatalf("expected user id from token, got %+v err=%v", s, err)
	}
	if auth.reg.Currency != dto.DefaultCurrency {
		t.Fatalf("expected default currency, got %q", auth.reg.Currency)
	}
}

func TestManagerErrors(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "s.json"))

	boom := errors.New("boom")
	if _, err := NewManager(&fakeAuth{err: boom}, store).Login(ctx, "fb"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped remote error, got %v", err)
	}
	if _, err := NewManager(&fakeAuth{}, store).Login(ctx, ""); err == nil {
		t.Fatal("expected error for empty uid")
	}
	noID := &fakeAuth{resp: dto.AuthResponse{Success: true, Token: signed(t, jwt.MapClaims{"role": "user"})}}
	if _, err := NewManager(noID, store).Login(ctx, "fb"); err == nil {
		t.Fatal("expected error when no user id is available")
	}
	if cur, _ := store.Load(ctx); cur.Authenticated() {
		t.Fatal("failed login must not persist a session")
	}
}

func TestUserIDFromTokenClaims(t *testing.T) {
	if id, err := UserIDFromToken(signed(t, jwt.MapClaims{"sub": "s1"})); err != nil || id != "s1" {
		t.Fatalf("expected sub claim, got %q %v", id, err)
	}
	if _, err := UserIDFromToken("not-a-jwt"); err == nil {
		t.Fatal("expected parse error")
	}
}
