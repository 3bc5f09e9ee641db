// Package session owns the authenticated identity: the access/refresh token
// pair, the self-renewing refresh timer, and the current-user broadcast that
// view components consume.
//
// State machine: LoggedOut -> (login success) -> LoggedIn -> (refresh
// success) -> LoggedIn with the timer rearmed -> (refresh rejection or
// logout) -> LoggedOut. Anything that indicates a dead credential fails
// closed into LoggedOut.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"freework/authapi"
	"freework/clock"
	"freework/internal/stream"
	"freework/storage"
	"freework/token"
)

// Session is a snapshot of the authenticated state after a successful login
// or refresh.
type Session struct {
	UserID       string
	Role         string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// API is the slice of the auth backend the manager needs.
// *authapi.Client satisfies it.
type API interface {
	Login(ctx context.Context, creds authapi.Credentials) (authapi.AuthResult, error)
	Register(ctx context.Context, req authapi.RegisterRequest) (authapi.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (authapi.AuthResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, accessToken string) (authapi.User, error)
}

// refreshAttempt is the shared state of one in-flight refresh. Concurrent
// callers (manual or timer-driven) wait on done and take the same result, so
// the refresh token is rotated at most once per attempt.
type refreshAttempt struct {
	done chan struct{}
	sess Session
	err  error
}

// Manager maintains exactly one authenticated identity per instance.
type Manager struct {
	cfg   Config
	api   API
	store storage.Store
	clk   clock.Clock
	log   *slog.Logger
	met   *metrics

	users *stream.Stream[*authapi.User]

	mu      sync.Mutex
	user    *authapi.User
	timer   clock.Timer
	attempt *refreshAttempt
	hooks   []func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock (tests).
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clk = c }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithRegisterer registers the manager's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.met = newMetrics(reg) }
}

// NewManager constructs a Manager over the given API client and credential
// store. It performs no I/O; call Restore to resume a persisted session.
func NewManager(cfg Config, api API, store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg.withDefaults(),
		api:   api,
		store: store,
		clk:   clock.Real(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.met == nil {
		m.met = newMetrics(nil)
	}
	m.users = stream.New[*authapi.User](4, func() {
		m.log.Warn("session.broadcast.dropped")
	})
	return m
}

// Restore resumes a session persisted by a previous run: if the store holds
// a user and an access token, the user is re-broadcast and the refresh timer
// re-armed. A store without both is left alone.
func (m *Manager) Restore(ctx context.Context) error {
	user, err := m.store.User(ctx)
	if err != nil {
		return err
	}
	access, err := m.store.AccessToken(ctx)
	if err != nil {
		return err
	}
	if user == nil || access == "" {
		return nil
	}

	m.mu.Lock()
	m.user = user
	m.scheduleRefreshLocked(m.expiryOf(access, 0))
	m.mu.Unlock()

	m.users.Publish(user)
	m.log.Info("session.restored", "user_id", user.ID)
	return nil
}

// Login exchanges credentials for a session. On success the tokens and user
// record are persisted, the refresh timer armed, and the new current user
// broadcast to all subscribers.
func (m *Manager) Login(ctx context.Context, creds authapi.Credentials) (Session, error) {
	res, err := m.api.Login(ctx, creds)
	if err != nil {
		if definitive(err) {
			return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}

	sess, err := m.adopt(ctx, res)
	if err != nil {
		return Session{}, err
	}
	m.met.logins.Inc()
	m.log.Info("session.login", "user_id", sess.UserID, "role", sess.Role)
	return sess, nil
}

// Register creates an account; the response logs it in like Login.
func (m *Manager) Register(ctx context.Context, req authapi.RegisterRequest) (Session, error) {
	res, err := m.api.Register(ctx, req)
	if err != nil {
		if definitive(err) {
			return Session{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}

	sess, err := m.adopt(ctx, res)
	if err != nil {
		return Session{}, err
	}
	m.met.logins.Inc()
	m.log.Info("session.register", "user_id", sess.UserID)
	return sess, nil
}

// adopt persists a token exchange result and makes it the current session.
func (m *Manager) adopt(ctx context.Context, res authapi.AuthResult) (Session, error) {
	if err := m.store.SetTokens(ctx, res.AccessToken, res.RefreshToken); err != nil {
		return Session{}, err
	}
	if res.User != nil {
		if err := m.store.SetUser(ctx, res.User); err != nil {
			return Session{}, err
		}
	}

	expiry := m.expiryOf(res.AccessToken, res.ExpiresIn)

	m.mu.Lock()
	if res.User != nil {
		m.user = res.User
	}
	user := m.user
	m.scheduleRefreshLocked(expiry)
	m.mu.Unlock()

	if res.User != nil {
		m.users.Publish(user)
	}

	sess := Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Expiry:       expiry,
	}
	if user != nil {
		sess.UserID = user.ID
		sess.Role = user.Role
	}
	return sess, nil
}

// Refresh exchanges the stored refresh token for a new pair. Attempts are
// single-flight: a caller arriving while one is in flight waits for it and
// shares its result.
//
// A definitive server rejection forces a logout (terminal). A transport
// failure keeps the session and surfaces ErrTransientNetwork.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	m.mu.Lock()
	if a := m.attempt; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.sess, a.err
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
	}
	a := &refreshAttempt{done: make(chan struct{})}
	m.attempt = a
	m.mu.Unlock()

	a.sess, a.err = m.doRefresh(ctx)

	m.mu.Lock()
	m.attempt = nil
	m.mu.Unlock()
	close(a.done)

	return a.sess, a.err
}

func (m *Manager) doRefresh(ctx context.Context) (Session, error) {
	refresh, err := m.store.RefreshToken(ctx)
	if err != nil {
		return Session{}, err
	}
	if refresh == "" {
		// Nothing to exchange: terminal, and no HTTP call is issued.
		m.forceLogout(ctx)
		return Session{}, ErrNoRefreshToken
	}

	res, err := m.api.Refresh(ctx, refresh)
	if err != nil {
		if definitive(err) {
			m.met.refreshes.WithLabelValues(outcomeRejected).Inc()
			m.log.Warn("session.refresh.rejected", "err", err)
			m.forceLogout(ctx)
			return Session{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		m.met.refreshes.WithLabelValues(outcomeTransient).Inc()
		m.log.Warn("session.refresh.transient", "err", err)
		return Session{}, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}

	sess, err := m.adopt(ctx, res)
	if err != nil {
		return Session{}, err
	}
	m.met.refreshes.WithLabelValues(outcomeSuccess).Inc()
	m.log.Debug("session.refresh.ok", "expiry", sess.Expiry)
	return sess, nil
}

// Logout ends the session. The server notify is best-effort: its failure is
// ignored because logout must always succeed locally. Storage is cleared
// atomically, the timer cancelled, nil broadcast, and logout hooks run.
func (m *Manager) Logout(ctx context.Context) {
	if refresh, err := m.store.RefreshToken(ctx); err == nil && refresh != "" {
		if err := m.api.Logout(ctx, refresh); err != nil {
			m.log.Debug("session.logout.notify_failed", "err", err)
		}
	}
	m.forceLogout(ctx)
}

// forceLogout is the single cleanup path for both explicit logout and dead
// credentials. Idempotent.
func (m *Manager) forceLogout(ctx context.Context) {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	wasLoggedIn := m.user != nil
	m.user = nil
	hooks := make([]func(), len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("session.logout.clear_failed", "err", err)
	}

	m.users.Publish(nil)
	for _, hook := range hooks {
		hook()
	}

	if wasLoggedIn {
		m.met.logouts.Inc()
		m.log.Info("session.logout")
	}
}

// IsAuthenticated reports whether an access token exists and is unexpired.
// Undecodable tokens count as expired.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	access, err := m.store.AccessToken(ctx)
	if err != nil || access == "" {
		return false
	}
	return !token.ExpiredAt(access, m.clk.Now())
}

// AccessToken returns the stored access token ("" when absent).
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	return m.store.AccessToken(ctx)
}

// CurrentUser is a synchronous read of the broadcast state. No I/O.
func (m *Manager) CurrentUser() *authapi.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Subscribe returns a channel of current-user updates, primed with the
// present value (nil when logged out). Subscribers never block the manager.
func (m *Manager) Subscribe() (<-chan *authapi.User, func()) {
	m.mu.Lock()
	current := m.user
	m.mu.Unlock()
	return m.users.Subscribe(current)
}

// AddLogoutHook registers f to run on every logout, explicit or forced.
// The realtime channel registers its close here so a dead session never
// leaves a connection open.
func (m *Manager) AddLogoutHook(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, f)
}

// FetchProfile refreshes the user record from GET /me and broadcasts it.
func (m *Manager) FetchProfile(ctx context.Context) (authapi.User, error) {
	access, err := m.store.AccessToken(ctx)
	if err != nil {
		return authapi.User{}, err
	}

	user, err := m.api.Me(ctx, access)
	if err != nil {
		if definitive(err) {
			return authapi.User{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return authapi.User{}, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}

	if err := m.store.SetUser(ctx, &user); err != nil {
		return authapi.User{}, err
	}

	m.mu.Lock()
	m.user = &user
	m.mu.Unlock()
	m.users.Publish(&user)

	return user, nil
}

// expiryOf resolves the access token's expiry: the decoded exp claim when
// the token is decodable, the advertised expiresIn otherwise, and "now"
// (forcing an immediate refresh) when neither exists.
func (m *Manager) expiryOf(accessToken string, expiresIn time.Duration) time.Time {
	if claims, err := token.Decode(accessToken); err == nil {
		return claims.ExpiresAt
	}
	now := m.clk.Now()
	if expiresIn > 0 {
		return now.Add(expiresIn)
	}
	m.log.Warn("session.token.undecodable")
	return now
}

// scheduleRefreshLocked arms the one-shot refresh timer at expiry minus the
// lead. Exactly one timer is live: the predecessor is always cancelled
// first. A non-positive delay still schedules (fires immediately).
func (m *Manager) scheduleRefreshLocked(expiry time.Time) {
	if m.timer != nil {
		m.timer.Stop()
	}

	delay := expiry.Sub(m.clk.Now()) - m.cfg.RefreshLead
	if delay < 0 {
		delay = 0
	}
	m.timer = m.clk.AfterFunc(delay, m.refreshTick)
	m.log.Debug("session.refresh.scheduled", "delay", delay)
}

// refreshTick is the timer callback. Transient failures rearm a retry;
// everything else has already been resolved inside Refresh.
func (m *Manager) refreshTick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	defer cancel()

	_, err := m.Refresh(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, ErrTransientNetwork) {
		m.mu.Lock()
		m.timer = m.clk.AfterFunc(m.cfg.RetryInterval, m.refreshTick)
		m.mu.Unlock()
		m.log.Warn("session.refresh.retry_scheduled", "in", m.cfg.RetryInterval)
	}
}

// definitive reports whether err is a conclusive rejection from the server,
// as opposed to a transport failure or a 5xx.
func definitive(err error) bool {
	var se *authapi.StatusError
	return errors.As(err, &se) && se.Definitive()
}
