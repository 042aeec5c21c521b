package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneverse/tuneverse/internal/library"
)

type fakeStore struct {
	library.Store

	profiles map[string]library.User
	codes    map[string]library.VerificationCode
	sent     int
	signOuts int

	resetEmails    []string
	passwords      []string
	avatarObjects  map[string][]byte
	removedAvatars []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:      map[string]library.User{},
		codes:         map[string]library.VerificationCode{},
		avatarObjects: map[string][]byte{},
	}
}

func (f *fakeStore) SignUp(ctx context.Context, name, email, password string) (library.Session, error) {
	return library.Session{
		AccessToken: "tok",
		User:        library.User{ID: "u1", Name: name, Email: email},
	}, nil
}

func (f *fakeStore) SignIn(ctx context.Context, email, password string) (library.Session, error) {
	if password == "wrong" {
		return library.Session{}, library.ErrUnauthorized
	}
	return library.Session{
		AccessToken: "tok",
		User:        library.User{ID: "u1", Email: email},
	}, nil
}

func (f *fakeStore) SignOut(ctx context.Context) error {
	f.signOuts++
	return nil
}

func (f *fakeStore) EnsureProfile(ctx context.Context, user library.User) error {
	if _, ok := f.profiles[user.ID]; !ok {
		f.profiles[user.ID] = user
	}
	return nil
}

func (f *fakeStore) FetchProfile(ctx context.Context, userID string) (library.User, error) {
	u, ok := f.profiles[userID]
	if !ok {
		return library.User{}, library.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) RequestPasswordReset(ctx context.Context, email string) error {
	f.resetEmails = append(f.resetEmails, email)
	return nil
}

func (f *fakeStore) UpdatePassword(ctx context.Context, newPassword string) error {
	f.passwords = append(f.passwords, newPassword)
	return nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, user library.User) error {
	if _, ok := f.profiles[user.ID]; !ok {
		return library.ErrNotFound
	}
	f.profiles[user.ID] = user
	return nil
}

func (f *fakeStore) UploadAvatar(ctx context.Context, asset library.Asset) (string, error) {
	f.avatarObjects[asset.Key] = asset.Data
	return "https://store.example/storage/v1/object/public/avatars/" + asset.Key, nil
}

func (f *fakeStore) RemoveAvatar(ctx context.Context, key string) error {
	f.removedAvatars = append(f.removedAvatars, key)
	delete(f.avatarObjects, key)
	return nil
}

func (f *fakeStore) InsertVerificationCode(ctx context.Context, code library.VerificationCode) error {
	f.codes[code.ID] = code
	return nil
}

func (f *fakeStore) FetchVerificationCode(ctx context.Context, userID, code string) (library.VerificationCode, error) {
	for _, c := range f.codes {
		if c.UserID == userID && c.Code == code && !c.Verified {
			return c, nil
		}
	}
	return library.VerificationCode{}, library.ErrNotFound
}

func (f *fakeStore) ConsumeVerificationCode(ctx context.Context, id string) error {
	c, ok := f.codes[id]
	if !ok {
		return library.ErrNotFound
	}
	c.Verified = true
	f.codes[id] = c
	return nil
}

func (f *fakeStore) SendVerification(ctx context.Context, userID, email string) error {
	f.sent++
	return nil
}

func (f *fakeStore) latestCode() (library.VerificationCode, bool) {
	for _, c := range f.codes {
		if !c.Verified {
			return c, true
		}
	}
	return library.VerificationCode{}, false
}

func newTestManager(store *fakeStore, now time.Time) *Manager {
	return NewManager(Options{
		Store: store,
		Now:   func() time.Time { return now },
	})
}

func TestSignInEnsuresProfileAndNotifies(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = library.User{ID: "u1", Name: "Ada", Email: "a@b.c"}
	m := newTestManager(store, time.Now())

	var notified []*library.Session
	m.Subscribe(func(s *library.Session) { notified = append(notified, s) })

	sess, err := m.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Ada", sess.User.Name, "profile should hydrate the display name")
	require.Len(t, notified, 1)
	assert.Equal(t, "u1", notified[0].User.ID)
	require.NotNil(t, m.Current())
}

func TestSignInBadCredentials(t *testing.T) {
	m := newTestManager(newFakeStore(), time.Now())
	_, err := m.SignIn(context.Background(), "a@b.c", "wrong")
	assert.ErrorIs(t, err, library.ErrUnauthorized)
	assert.Nil(t, m.Current())
}

func TestSignUpIssuesSixDigitCode(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(store, now)

	_, err := m.SignUp(context.Background(), "Ada", "a@b.c", "pw")
	require.NoError(t, err)

	_, ok := store.profiles["u1"]
	assert.True(t, ok, "profile row must exist after sign up")
	assert.Equal(t, 1, store.sent)

	code, ok := store.latestCode()
	require.True(t, ok)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code.Code)
	assert.Equal(t, now.Add(15*time.Minute), code.ExpiresAt)
}

func TestVerifyCodeConsumesCode(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	m := newTestManager(store, now)

	_, err := m.SignUp(context.Background(), "Ada", "a@b.c", "pw")
	require.NoError(t, err)
	code, ok := store.latestCode()
	require.True(t, ok)

	require.NoError(t, m.VerifyCode(context.Background(), code.Code))

	// A redeemed code cannot be reused.
	err = m.VerifyCode(context.Background(), code.Code)
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestVerifyCodeExpired(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	m := newTestManager(store, now)

	_, err := m.SignUp(context.Background(), "Ada", "a@b.c", "pw")
	require.NoError(t, err)
	code, ok := store.latestCode()
	require.True(t, ok)

	m.now = func() time.Time { return now.Add(16 * time.Minute) }
	err = m.VerifyCode(context.Background(), code.Code)
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestVerifyCodeRequiresSession(t *testing.T) {
	m := newTestManager(newFakeStore(), time.Now())
	err := m.VerifyCode(context.Background(), "123456")
	assert.ErrorIs(t, err, library.ErrUnauthorized)
}

func TestSignOutNotifiesNilSession(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, time.Now())

	_, err := m.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	var last *library.Session = &library.Session{}
	m.Subscribe(func(s *library.Session) { last = s })

	require.NoError(t, m.SignOut(context.Background()))
	assert.Nil(t, last)
	assert.Nil(t, m.Current())
	assert.Equal(t, 1, store.signOuts)
}

func TestRequestPasswordResetWorksSignedOut(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, time.Now())

	require.NoError(t, m.RequestPasswordReset(context.Background(), "a@b.c"))
	assert.Equal(t, []string{"a@b.c"}, store.resetEmails)

	err := m.RequestPasswordReset(context.Background(), "")
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestUpdatePasswordRequiresSession(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, time.Now())

	err := m.UpdatePassword(context.Background(), "hunter22")
	assert.ErrorIs(t, err, library.ErrUnauthorized)

	_, err = m.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	err = m.UpdatePassword(context.Background(), "short")
	assert.ErrorIs(t, err, library.ErrValidation)

	require.NoError(t, m.UpdatePassword(context.Background(), "hunter22"))
	assert.Equal(t, []string{"hunter22"}, store.passwords)
}

func TestUpdateNameNotifiesSubscribers(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = library.User{ID: "u1", Name: "Ada", Email: "a@b.c"}
	m := newTestManager(store, time.Now())

	_, err := m.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	var last *library.Session
	m.Subscribe(func(s *library.Session) { last = s })

	sess, err := m.UpdateName(context.Background(), "Ada Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", sess.User.Name)
	assert.Equal(t, "Ada Lovelace", store.profiles["u1"].Name)
	require.NotNil(t, last)
	assert.Equal(t, "Ada Lovelace", last.User.Name)

	_, err = m.UpdateName(context.Background(), "")
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestUpdateAvatarReplacesOldObject(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = library.User{
		ID:        "u1",
		Email:     "a@b.c",
		AvatarURL: "https://store.example/storage/v1/object/public/avatars/u1-old.png",
	}
	m := newTestManager(store, time.Now())

	_, err := m.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	sess, err := m.UpdateAvatar(context.Background(), "me.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Contains(t, sess.User.AvatarURL, "/avatars/u1-")
	assert.Equal(t, sess.User.AvatarURL, store.profiles["u1"].AvatarURL)
	assert.Equal(t, []string{"u1-old.png"}, store.removedAvatars)
	require.Len(t, store.avatarObjects, 1)
}

func TestRemoveAvatarClearsProfile(t *testing.T) {
	store := newFakeStore()
	store.profiles["u1"] = library.User{
		ID:        "u1",
		Email:     "a@b.c",
		AvatarURL: "https://store.example/storage/v1/object/public/avatars/u1-old.png",
	}
	m := newTestManager(store, time.Now())

	_, err := m.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	sess, err := m.RemoveAvatar(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sess.User.AvatarURL)
	assert.Empty(t, store.profiles["u1"].AvatarURL)
	assert.Equal(t, []string{"u1-old.png"}, store.removedAvatars)
}

func TestResendCode(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store, time.Now())

	_, err := m.SignUp(context.Background(), "Ada", "a@b.c", "pw")
	require.NoError(t, err)
	require.NoError(t, m.ResendCode(context.Background()))
	assert.Equal(t, 2, store.sent)
	assert.Len(t, store.codes, 2)
}
