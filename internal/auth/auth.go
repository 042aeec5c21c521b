package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tuneverse/tuneverse/internal/library"
)

// codeTTL is how long an emailed verification code stays redeemable.
const codeTTL = 15 * time.Minute

// Listener is notified whenever the session changes. A nil session
// means signed out.
type Listener func(session *library.Session)

// Options configures a Manager.
type Options struct {
	Store  library.Store
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns the authenticated session, fans out session changes to
// subscribers, and drives the email verification flow.
type Manager struct {
	store  library.Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	session   *library.Session
	listeners []Listener
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:  opts.Store,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Subscribe registers a listener for session changes.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Current returns the active session, or nil when signed out.
func (m *Manager) Current() *library.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	session := *m.session
	return &session
}

func (m *Manager) setSession(session *library.Session) {
	m.mu.Lock()
	m.session = session
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, l := range listeners {
		l(session)
	}
}

// SignUp creates the account, its profile row, and sends the first
// verification code.
func (m *Manager) SignUp(ctx context.Context, name, email, password string) (library.Session, error) {
	if name == "" || email == "" || password == "" {
		return library.Session{}, fmt.Errorf("%w: name, email and password are required", library.ErrValidation)
	}
	session, err := m.store.SignUp(ctx, name, email, password)
	if err != nil {
		return library.Session{}, fmt.Errorf("sign up: %w", err)
	}
	// The backend holds no trigger creating profile rows, so the row is
	// written explicitly before anything references it.
	if err := m.store.EnsureProfile(ctx, session.User); err != nil {
		return library.Session{}, fmt.Errorf("ensure profile: %w", err)
	}
	if err := m.issueCode(ctx, session.User); err != nil {
		m.logger.Warn("issue verification code", slog.Any("err", err))
	}
	m.setSession(&session)
	m.logger.Info("signed up", slog.String("user_id", session.User.ID))
	return session, nil
}

// SignIn authenticates and hydrates the profile.
func (m *Manager) SignIn(ctx context.Context, email, password string) (library.Session, error) {
	if email == "" || password == "" {
		return library.Session{}, fmt.Errorf("%w: email and password are required", library.ErrValidation)
	}
	session, err := m.store.SignIn(ctx, email, password)
	if err != nil {
		return library.Session{}, fmt.Errorf("sign in: %w", err)
	}
	if err := m.store.EnsureProfile(ctx, session.User); err != nil {
		return library.Session{}, fmt.Errorf("ensure profile: %w", err)
	}
	if profile, err := m.store.FetchProfile(ctx, session.User.ID); err == nil {
		session.User = profile
	}
	m.setSession(&session)
	m.logger.Info("signed in", slog.String("user_id", session.User.ID))
	return session, nil
}

// SignOut ends the session. Subscribers receive a nil session.
func (m *Manager) SignOut(ctx context.Context) error {
	err := m.store.SignOut(ctx)
	m.setSession(nil)
	m.logger.Info("signed out")
	return err
}

// RequestPasswordReset asks the backend to email a recovery link. It
// works signed out, so only the address is validated here.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", library.ErrValidation)
	}
	if err := m.store.RequestPasswordReset(ctx, email); err != nil {
		return fmt.Errorf("request password reset: %w", err)
	}
	m.logger.Info("password reset requested", slog.String("email", email))
	return nil
}

// UpdatePassword changes the signed-in user's password.
func (m *Manager) UpdatePassword(ctx context.Context, newPassword string) error {
	if m.Current() == nil {
		return library.ErrUnauthorized
	}
	if len(newPassword) < 6 {
		return fmt.Errorf("%w: password must be at least 6 characters", library.ErrValidation)
	}
	if err := m.store.UpdatePassword(ctx, newPassword); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	m.logger.Info("password updated")
	return nil
}

// UpdateName renames the signed-in user's profile and fans the updated
// session out to subscribers.
func (m *Manager) UpdateName(ctx context.Context, name string) (library.Session, error) {
	session := m.Current()
	if session == nil {
		return library.Session{}, library.ErrUnauthorized
	}
	if name == "" {
		return library.Session{}, fmt.Errorf("%w: name is required", library.ErrValidation)
	}
	user := session.User
	user.Name = name
	if err := m.store.UpdateProfile(ctx, user); err != nil {
		return library.Session{}, fmt.Errorf("update profile: %w", err)
	}
	session.User = user
	m.setSession(session)
	m.logger.Info("profile renamed", slog.String("user_id", user.ID))
	return *session, nil
}

// UpdateAvatar uploads a new avatar image, points the profile at it, and
// removes the previous object once the swap has committed.
func (m *Manager) UpdateAvatar(ctx context.Context, filename, contentType string, data []byte) (library.Session, error) {
	session := m.Current()
	if session == nil {
		return library.Session{}, library.ErrUnauthorized
	}
	if len(data) == 0 {
		return library.Session{}, fmt.Errorf("%w: avatar image is empty", library.ErrValidation)
	}
	key := session.User.ID + "-" + uuid.NewString() + path.Ext(filename)
	avatarURL, err := m.store.UploadAvatar(ctx, library.Asset{
		Key:         key,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		return library.Session{}, fmt.Errorf("upload avatar: %w", err)
	}
	previous := session.User.AvatarURL
	user := session.User
	user.AvatarURL = avatarURL
	if err := m.store.UpdateProfile(ctx, user); err != nil {
		return library.Session{}, fmt.Errorf("update profile: %w", err)
	}
	m.removeAvatarObject(ctx, previous)
	session.User = user
	m.setSession(session)
	m.logger.Info("avatar updated", slog.String("user_id", user.ID))
	return *session, nil
}

// RemoveAvatar clears the profile's avatar and deletes the stored object.
func (m *Manager) RemoveAvatar(ctx context.Context) (library.Session, error) {
	session := m.Current()
	if session == nil {
		return library.Session{}, library.ErrUnauthorized
	}
	previous := session.User.AvatarURL
	user := session.User
	user.AvatarURL = ""
	if err := m.store.UpdateProfile(ctx, user); err != nil {
		return library.Session{}, fmt.Errorf("update profile: %w", err)
	}
	m.removeAvatarObject(ctx, previous)
	session.User = user
	m.setSession(session)
	m.logger.Info("avatar removed", slog.String("user_id", user.ID))
	return *session, nil
}

// removeAvatarObject is best effort; an orphaned object never blocks the
// profile update that already landed.
func (m *Manager) removeAvatarObject(ctx context.Context, avatarURL string) {
	_, key, found := strings.Cut(avatarURL, "/avatars/")
	if !found || key == "" {
		return
	}
	if err := m.store.RemoveAvatar(ctx, key); err != nil {
		m.logger.Warn("remove old avatar", slog.Any("err", err))
	}
}

// ResendCode issues a fresh verification code for the current user.
func (m *Manager) ResendCode(ctx context.Context) error {
	session := m.Current()
	if session == nil {
		return library.ErrUnauthorized
	}
	return m.issueCode(ctx, session.User)
}

func (m *Manager) issueCode(ctx context.Context, user library.User) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	record := library.VerificationCode{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Code:      code,
		ExpiresAt: m.now().Add(codeTTL),
	}
	if err := m.store.InsertVerificationCode(ctx, record); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := m.store.SendVerification(ctx, user.ID, user.Email); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// VerifyCode redeems a 6-digit code for the current user. Expired or
// unknown codes fail; a redeemed code cannot be reused.
func (m *Manager) VerifyCode(ctx context.Context, code string) error {
	session := m.Current()
	if session == nil {
		return library.ErrUnauthorized
	}
	if len(code) != 6 {
		return fmt.Errorf("%w: code must be 6 digits", library.ErrValidation)
	}
	record, err := m.store.FetchVerificationCode(ctx, session.User.ID, code)
	if err != nil {
		return err
	}
	if m.now().After(record.ExpiresAt) {
		return fmt.Errorf("%w: code expired", library.ErrValidation)
	}
	if err := m.store.ConsumeVerificationCode(ctx, record.ID); err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	m.logger.Info("email verified", slog.String("user_id", session.User.ID))
	return nil
}

// generateCode returns a random 6-digit code, zero padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
