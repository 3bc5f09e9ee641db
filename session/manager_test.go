package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"freework/authapi"
	"freework/clock"
	"freework/storage"
)

type fakeAPI struct {
	loginFn   func(ctx context.Context, creds authapi.Credentials) (authapi.AuthResult, error)
	refreshFn func(ctx context.Context, refreshToken string) (authapi.AuthResult, error)
	logoutFn  func(ctx context.Context, refreshToken string) error

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func (f *fakeAPI) Login(ctx context.Context, creds authapi.Credentials) (authapi.AuthResult, error) {
	return f.loginFn(ctx, creds)
}

func (f *fakeAPI) Register(ctx context.Context, req authapi.RegisterRequest) (authapi.AuthResult, error) {
	return authapi.AuthResult{}, errors.New("not implemented")
}

func (f *fakeAPI) Refresh(ctx context.Context, refreshToken string) (authapi.AuthResult, error) {
	f.refreshCalls.Add(1)
	if f.refreshFn == nil {
		return authapi.AuthResult{}, errors.New("unexpected refresh")
	}
	return f.refreshFn(ctx, refreshToken)
}

func (f *fakeAPI) Logout(ctx context.Context, refreshToken string) error {
	f.logoutCalls.Add(1)
	if f.logoutFn == nil {
		return nil
	}
	return f.logoutFn(ctx, refreshToken)
}

func (f *fakeAPI) Me(ctx context.Context, accessToken string) (authapi.User, error) {
	return authapi.User{}, errors.New("not implemented")
}

var testUser = &authapi.User{ID: "freelancer1", Email: "john@example.com", Role: authapi.RoleFreelancer}

func accessTokenExpiring(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  testUser.ID,
		"role": testUser.Role,
		"exp":  exp.Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func authResult(t *testing.T, exp time.Time, refreshToken string) authapi.AuthResult {
	t.Helper()
	return authapi.AuthResult{
		AccessToken:  accessTokenExpiring(t, exp),
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		User:         testUser,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, api API) (*Manager, *clock.Fake, storage.Store) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC))
	store, err := storage.NewStore(storage.DriverMemory)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m := NewManager(DefaultConfig(), api, store, WithClock(clk), WithLogger(quietLogger()))
	return m, clk, store
}

func TestLogin_SchedulesExactlyOneTimer(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	exp := clk.Now().Add(10 * time.Minute)
	api.loginFn = func(_ context.Context, creds authapi.Credentials) (authapi.AuthResult, error) {
		if creds.Email != "john@example.com" {
			t.Fatalf("credentials not forwarded: %+v", creds)
		}
		return authResult(t, exp, "rt-1"), nil
	}

	users, cancel := m.Subscribe()
	defer cancel()
	if got := <-users; got != nil {
		t.Fatalf("initial broadcast should be nil, got %+v", got)
	}

	sess, err := m.Login(ctx, authapi.Credentials{Email: "john@example.com", Password: "password"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != "freelancer1" || sess.Role != authapi.RoleFreelancer {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.AccessToken == "" {
		t.Fatalf("empty access token")
	}
	if !sess.Expiry.Equal(exp.Truncate(time.Second)) {
		t.Fatalf("expiry: got=%v want=%v", sess.Expiry, exp.Truncate(time.Second))
	}

	if !m.IsAuthenticated(ctx) {
		t.Fatalf("expected authenticated after login")
	}
	if got := clk.PendingTimers(); got != 1 {
		t.Fatalf("pending timers: got=%d want=1", got)
	}
	if got := <-users; got == nil || got.ID != "freelancer1" {
		t.Fatalf("user broadcast: %+v", got)
	}
	if u := m.CurrentUser(); u == nil || u.ID != "freelancer1" {
		t.Fatalf("CurrentUser: %+v", u)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
			return authapi.AuthResult{}, &authapi.StatusError{Status: http.StatusUnauthorized}
		},
	}
	m, clk, _ := newTestManager(t, api)

	_, err := m.Login(context.Background(), authapi.Credentials{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if clk.PendingTimers() != 0 {
		t.Fatalf("failed login must not schedule a timer")
	}
}

func TestRefreshTimer_FiresAtExpiryMinusLead(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	// Token expires in 10 minutes; with a 60s lead the refresh fires at ~9m.
	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}
	api.refreshFn = func(_ context.Context, refreshToken string) (authapi.AuthResult, error) {
		if refreshToken != "rt-1" {
			t.Fatalf("stored refresh token not used: %q", refreshToken)
		}
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-2"), nil
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	clk.Advance(9*time.Minute - time.Second)
	if got := api.refreshCalls.Load(); got != 0 {
		t.Fatalf("refresh fired early: %d calls", got)
	}

	clk.Advance(time.Second)
	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls: got=%d want=1", got)
	}

	// Success rearms exactly one successor timer.
	if got := clk.PendingTimers(); got != 1 {
		t.Fatalf("pending timers after refresh: got=%d want=1", got)
	}
}

func TestLogin_ExpiringTokenStillSchedules(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	// Expires within the lead window: delay clamps to zero, not skipped.
	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(30*time.Second), "rt-1"), nil
	}
	api.refreshFn = func(context.Context, string) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-2"), nil
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if clk.PendingTimers() != 1 {
		t.Fatalf("timer must be scheduled even for an expiring token")
	}

	clk.Advance(0)
	if api.refreshCalls.Load() != 1 {
		t.Fatalf("immediate refresh did not fire")
	}
}

func TestLogout_CancelsTimerAndClearsState(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, store := newTestManager(t, api)

	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	users, cancel := m.Subscribe()
	defer cancel()
	<-users // current value

	hookRan := false
	m.AddLogoutHook(func() { hookRan = true })

	m.Logout(ctx)

	if m.IsAuthenticated(ctx) {
		t.Fatalf("still authenticated after logout")
	}
	if got := clk.PendingTimers(); got != 0 {
		t.Fatalf("timers survived logout: %d", got)
	}
	if got := <-users; got != nil {
		t.Fatalf("expected nil broadcast, got %+v", got)
	}
	if !hookRan {
		t.Fatalf("logout hook did not run")
	}
	if api.logoutCalls.Load() != 1 {
		t.Fatalf("server notify not attempted")
	}
	if tok, _ := store.AccessToken(ctx); tok != "" {
		t.Fatalf("access token survived logout")
	}
	if u, _ := store.User(ctx); u != nil {
		t.Fatalf("user record survived logout")
	}
}

func TestLogout_ServerNotifyFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{
		logoutFn: func(context.Context, string) error { return errors.New("backend down") },
	}
	m, clk, _ := newTestManager(t, api)

	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}
	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.Logout(ctx)

	if m.IsAuthenticated(ctx) {
		t.Fatalf("logout must succeed locally regardless of server failure")
	}
}

func TestRefresh_NoTokenForcesLogoutWithoutHTTP(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, _, _ := newTestManager(t, api)

	_, err := m.Refresh(ctx)
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatalf("refresh must not issue an HTTP call with no stored token")
	}
	if m.IsAuthenticated(ctx) {
		t.Fatalf("expected logged out")
	}
}

func TestRefresh_DefinitiveRejectionForcesLogout(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}
	api.refreshFn = func(context.Context, string) (authapi.AuthResult, error) {
		return authapi.AuthResult{}, &authapi.StatusError{Status: http.StatusUnauthorized}
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err := m.Refresh(ctx)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if m.IsAuthenticated(ctx) {
		t.Fatalf("rejected refresh must force logout")
	}
	if clk.PendingTimers() != 0 {
		t.Fatalf("timers survived forced logout")
	}
}

func TestRefresh_TransientFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}
	api.refreshFn = func(context.Context, string) (authapi.AuthResult, error) {
		return authapi.AuthResult{}, errors.New("connection refused")
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err := m.Refresh(ctx)
	if !errors.Is(err, ErrTransientNetwork) {
		t.Fatalf("expected ErrTransientNetwork, got %v", err)
	}
	if !m.IsAuthenticated(ctx) {
		t.Fatalf("transient failure must not end the session")
	}
}

func TestRefreshTimer_TransientFailureRearmsRetry(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	failing := atomic.Bool{}
	failing.Store(true)
	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}
	api.refreshFn = func(context.Context, string) (authapi.AuthResult, error) {
		if failing.Load() {
			return authapi.AuthResult{}, errors.New("connection refused")
		}
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-2"), nil
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	clk.Advance(9 * time.Minute) // timer fires, refresh fails transiently
	if api.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls: %d", api.refreshCalls.Load())
	}
	if clk.PendingTimers() != 1 {
		t.Fatalf("retry timer not armed")
	}

	failing.Store(false)
	clk.Advance(DefaultConfig().RetryInterval)
	if api.refreshCalls.Load() != 2 {
		t.Fatalf("retry did not fire: %d calls", api.refreshCalls.Load())
	}
	if !m.IsAuthenticated(ctx) {
		t.Fatalf("expected authenticated after recovered refresh")
	}
}

func TestRefresh_SingleFlight(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	api.loginFn = func(context.Context, authapi.Credentials) (authapi.AuthResult, error) {
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-1"), nil
	}

	release := make(chan struct{})
	api.refreshFn = func(context.Context, string) (authapi.AuthResult, error) {
		<-release
		return authResult(t, clk.Now().Add(10*time.Minute), "rt-2"), nil
	}

	if _, err := m.Login(ctx, authapi.Credentials{}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	const callers = 4
	var wg sync.WaitGroup
	results := make([]Session, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.Refresh(ctx)
		}()
	}

	// Let all callers pile onto the in-flight attempt, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := api.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh token rotated %d times, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].RefreshToken != "rt-2" {
			t.Fatalf("caller %d got stale result: %+v", i, results[i])
		}
	}
}

func TestRestore_ResumesPersistedSession(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	m, clk, store := newTestManager(t, api)

	if err := store.SetTokens(ctx, accessTokenExpiring(t, clk.Now().Add(10*time.Minute)), "rt-1"); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	if err := store.SetUser(ctx, testUser); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	if err := m.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if u := m.CurrentUser(); u == nil || u.ID != "freelancer1" {
		t.Fatalf("CurrentUser after restore: %+v", u)
	}
	if clk.PendingTimers() != 1 {
		t.Fatalf("restore must rearm the refresh timer")
	}
}

func TestRestore_EmptyStoreIsNoop(t *testing.T) {
	api := &fakeAPI{}
	m, clk, _ := newTestManager(t, api)

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if m.CurrentUser() != nil || clk.PendingTimers() != 0 {
		t.Fatalf("restore over empty store must do nothing")
	}
}
