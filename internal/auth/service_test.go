// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package auth_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/pkg/errutil"
)

// memUserRepo is an in-memory UserRepository for service tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[ulid.ULID]*auth.User

	// forced errors per method name, for failure-path tests
	errs map[string]error
}

var _ auth.UserRepository = (*memUserRepo)(nil)

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users: make(map[ulid.ULID]*auth.User),
		errs:  make(map[string]error),
	}
}

func (r *memUserRepo) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["Create"]; err != nil {
		return err
	}
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) ||
			strings.EqualFold(existing.Username, user.Username) {
			return auth.ErrAlreadyExists
		}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["GetByID"]; err != nil {
		return nil, err
	}
	user, ok := r.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["GetByEmail"]; err != nil {
		return nil, err
	}
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["GetByUsername"]; err != nil {
		return nil, err
	}
	for _, user := range r.users {
		if strings.EqualFold(user.Username, username) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *memUserRepo) UpdateLastSeen(_ context.Context, id ulid.ULID, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["UpdateLastSeen"]; err != nil {
		return err
	}
	user, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.LastSeenAt = &seenAt
	return nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["UpdatePassword"]; err != nil {
		return err
	}
	user, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (r *memUserRepo) SetTwoFactor(_ context.Context, id ulid.ULID, enabled bool, secret *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.errs["SetTwoFactor"]; err != nil {
		return err
	}
	user, ok := r.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.TwoFactorEnabled = enabled
	user.TwoFactorSecret = secret
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

// memSessionRepo is an in-memory SessionRepository with the same atomic
// rotation semantics as the real store.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[ulid.ULID]*auth.Session
	users    *memUserRepo
}

var _ auth.SessionRepository = (*memSessionRepo)(nil)

func newMemSessionRepo(users *memUserRepo) *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[ulid.ULID]*auth.Session),
		users:    users,
	}
}

func (r *memSessionRepo) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	clone.User = nil
	r.sessions[session.ID] = &clone
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *memSessionRepo) GetByRefreshToken(ctx context.Context, refreshToken string) (*auth.Session, error) {
	r.mu.Lock()
	var found *auth.Session
	for _, session := range r.sessions {
		if session.RefreshToken == refreshToken {
			clone := *session
			found = &clone
			break
		}
	}
	r.mu.Unlock()

	if found == nil {
		return nil, auth.ErrNotFound
	}
	user, err := r.users.GetByID(ctx, found.UserID)
	if err != nil {
		return nil, err
	}
	found.User = user
	return found, nil
}

func (r *memSessionRepo) ListByUser(_ context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*auth.Session
	for _, session := range r.sessions {
		if session.UserID == userID {
			clone := *session
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivity.After(result[j].LastActivity)
	})
	return result, nil
}

func (r *memSessionRepo) RotateRefreshToken(_ context.Context, id ulid.ULID, oldToken, newToken string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if session.RefreshToken != oldToken {
		return auth.ErrRefreshConflict
	}
	session.RefreshToken = newToken
	session.LastActivity = now
	return nil
}

func (r *memSessionRepo) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteAllForUser(_ context.Context, userID ulid.ULID, exceptID *ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.UserID != userID {
			continue
		}
		if exceptID != nil && id == *exceptID {
			continue
		}
		delete(r.sessions, id)
	}
	return nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, session := range r.sessions {
		if session.IsExpiredAt(now) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

// testEnv bundles a Service with its fakes.
type testEnv struct {
	svc      *auth.Service
	users    *memUserRepo
	sessions *memSessionRepo
	hasher   auth.PasswordHasher
	verifier auth.TwoFactorVerifier
	issuer   *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newMemUserRepo()
	sessions := newMemSessionRepo(users)
	hasher := auth.NewArgon2idHasher()

	verifier, err := auth.NewTOTPVerifier("parley")
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		SigningKey: []byte("service-test-key"),
		Issuer:     "parley",
	})
	require.NoError(t, err)

	svc, err := auth.NewService(users, sessions, hasher, verifier, issuer)
	require.NoError(t, err)

	return &testEnv{
		svc:      svc,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		verifier: verifier,
		issuer:   issuer,
	}
}

func (e *testEnv) register(t *testing.T, username, email, password string) *auth.User {
	t.Helper()
	user, err := e.svc.Register(context.Background(), auth.Registration{
		Email:    email,
		Username: username,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func totpCodeNow(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func TestService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.register(t, "ada", "ada@example.com", "correct horse")

	stored, err := env.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", stored.Email)

	valid, err := env.hasher.Verify("correct horse", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, valid, "stored hash verifies the original password")
	assert.NotContains(t, stored.PasswordHash, "correct horse")

	t.Run("duplicate username", func(t *testing.T) {
		_, err := env.svc.Register(ctx, auth.Registration{
			Email:    "other@example.com",
			Username: "ada",
			Password: "x",
		})
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
	})
}

func TestService_Login(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "ada", "ada@example.com", "correct horse")

	t.Run("by username", func(t *testing.T) {
		result, err := env.svc.Login(ctx, "ada", "correct horse", "", chromeOnWindows, "203.0.113.9")
		require.NoError(t, err)

		assert.False(t, result.RequiresTwoFactor)
		assert.NotEmpty(t, result.AccessToken)
		assert.NotEmpty(t, result.RefreshToken)
		assert.NotNil(t, result.User.LastSeenAt)

		claims, err := env.issuer.VerifyAccess(result.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "ada", claims.Username)

		session, err := env.sessions.GetByRefreshToken(ctx, result.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, result.User.ID, session.UserID)
		assert.Equal(t, "Chrome", session.DeviceInfo.Browser)
		assert.Equal(t, "203.0.113.9", session.IPAddress)
	})

	t.Run("by email", func(t *testing.T) {
		result, err := env.svc.Login(ctx, "ada@example.com", "correct horse", "", "", "")
		require.NoError(t, err)
		assert.Equal(t, "ada", result.User.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.svc.Login(ctx, "ada", "wrong", "", "", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("unknown user gets the same error", func(t *testing.T) {
		_, err := env.svc.Login(ctx, "nobody", "whatever", "", "", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})

	t.Run("each login creates its own session", func(t *testing.T) {
		before, err := env.svc.Sessions(ctx, mustUserID(t, env, "ada"))
		require.NoError(t, err)

		_, err = env.svc.Login(ctx, "ada", "correct horse", "", "", "")
		require.NoError(t, err)

		after, err := env.svc.Sessions(ctx, mustUserID(t, env, "ada"))
		require.NoError(t, err)
		assert.Len(t, after, len(before)+1)
	})
}

func TestService_Login_SessionExpiryFollowsRefreshTTL(t *testing.T) {
	ctx := context.Background()

	users := newMemUserRepo()
	sessions := newMemSessionRepo(users)

	verifier, err := auth.NewTOTPVerifier("parley")
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		SigningKey: []byte("service-test-key"),
		Issuer:     "parley",
		RefreshTTL: 2 * time.Hour,
	})
	require.NoError(t, err)

	svc, err := auth.NewService(users, sessions, auth.NewArgon2idHasher(), verifier, issuer)
	require.NoError(t, err)

	_, err = svc.Register(ctx, auth.Registration{
		Email:    "ada@example.com",
		Username: "ada",
		Password: "correct horse",
	})
	require.NoError(t, err)

	before := time.Now()
	result, err := svc.Login(ctx, "ada", "correct horse", "", chromeOnWindows, "203.0.113.9")
	require.NoError(t, err)

	session, err := sessions.GetByRefreshToken(ctx, result.RefreshToken)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(2*time.Hour), session.ExpiresAt, 5*time.Second,
		"session expiry tracks the configured refresh TTL")
}

func TestService_Login_InactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	env.users.mu.Lock()
	env.users.users[user.ID].IsActive = false
	env.users.mu.Unlock()

	// Disabled accounts fail identically to wrong passwords.
	_, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
}

func TestService_Login_TwoFactor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	secret, err := env.svc.GenerateTwoFactorSecret(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, env.svc.EnableTwoFactor(ctx, user.ID, secret.Secret, totpCodeNow(t, secret.Secret)))

	t.Run("pending without code", func(t *testing.T) {
		result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
		require.NoError(t, err)

		assert.True(t, result.RequiresTwoFactor)
		assert.Empty(t, result.AccessToken)
		assert.Empty(t, result.RefreshToken)

		sessions, err := env.svc.Sessions(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, sessions, "no session exists while the second factor is pending")
	})

	t.Run("correct code completes login", func(t *testing.T) {
		result, err := env.svc.Login(ctx, "ada", "correct horse", totpCodeNow(t, secret.Secret), "", "")
		require.NoError(t, err)
		assert.False(t, result.RequiresTwoFactor)
		assert.NotEmpty(t, result.AccessToken)
	})

	t.Run("wrong code rejected", func(t *testing.T) {
		_, err := env.svc.Login(ctx, "ada", "correct horse", "000000", "", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOTP")
	})

	t.Run("wrong password trumps the code", func(t *testing.T) {
		_, err := env.svc.Login(ctx, "ada", "wrong", totpCodeNow(t, secret.Secret), "", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")
	})
}

// upgradeHasher reports every hash as needing an upgrade and accepts a
// fixed password, standing in for a legacy scheme.
type upgradeHasher struct {
	inner auth.PasswordHasher
}

func (h *upgradeHasher) Hash(password string) (string, error) { return h.inner.Hash(password) }

func (h *upgradeHasher) Verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, "legacy:") {
		return hash == "legacy:"+password, nil
	}
	return h.inner.Verify(password, hash)
}

func (h *upgradeHasher) NeedsUpgrade(hash string) bool {
	return strings.HasPrefix(hash, "legacy:")
}

func TestService_Login_UpgradesLegacyHash(t *testing.T) {
	users := newMemUserRepo()
	sessions := newMemSessionRepo(users)
	hasher := &upgradeHasher{inner: auth.NewArgon2idHasher()}

	verifier, err := auth.NewTOTPVerifier("parley")
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{SigningKey: []byte("k"), Issuer: "parley"})
	require.NoError(t, err)

	svc, err := auth.NewService(users, sessions, hasher, verifier, issuer)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := auth.NewUser(auth.Registration{Email: "ada@example.com", Username: "ada"}, "legacy:correct horse")
	require.NoError(t, err)
	require.NoError(t, users.Create(ctx, user))

	_, err = svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.NoError(t, err)

	stored, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(stored.PasswordHash, "legacy:"), "hash was upgraded in place")

	valid, err := hasher.Verify("correct horse", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestService_Refresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "ada", "ada@example.com", "correct horse")

	login := func(t *testing.T) *auth.LoginResult {
		t.Helper()
		result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
		require.NoError(t, err)
		return result
	}

	t.Run("rotates the stored token", func(t *testing.T) {
		result := login(t)

		pair, user, err := env.svc.Refresh(ctx, result.RefreshToken)
		require.NoError(t, err)

		assert.Equal(t, "ada", user.Username)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEqual(t, result.RefreshToken, pair.RefreshToken)

		// The new token resolves to the same session; the old one is dead.
		session, err := env.sessions.GetByRefreshToken(ctx, pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, session.UserID)

		_, err = env.sessions.GetByRefreshToken(ctx, result.RefreshToken)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("a rotated token is single-use", func(t *testing.T) {
		result := login(t)

		first, _, err := env.svc.Refresh(ctx, result.RefreshToken)
		require.NoError(t, err)

		_, _, err = env.svc.Refresh(ctx, result.RefreshToken)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_REFRESH")

		// The winner's token still works.
		_, _, err = env.svc.Refresh(ctx, first.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, _, err := env.svc.Refresh(ctx, "never-issued")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_REFRESH")
	})

	t.Run("empty token", func(t *testing.T) {
		_, _, err := env.svc.Refresh(ctx, "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_REFRESH")
	})

	t.Run("expired session", func(t *testing.T) {
		result := login(t)

		session, err := env.sessions.GetByRefreshToken(ctx, result.RefreshToken)
		require.NoError(t, err)
		env.sessions.mu.Lock()
		env.sessions.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)
		env.sessions.mu.Unlock()

		_, _, err = env.svc.Refresh(ctx, result.RefreshToken)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_REFRESH")
	})
}

func TestService_Refresh_DisabledOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.NoError(t, err)

	env.users.mu.Lock()
	env.users.users[user.ID].IsActive = false
	env.users.mu.Unlock()

	_, _, err = env.svc.Refresh(ctx, result.RefreshToken)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_ACCOUNT_DISABLED")
}

func TestService_Refresh_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "ada", "ada@example.com", "correct horse")

	result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.svc.Refresh(ctx, result.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			errutil.AssertErrorCode(t, err, "AUTH_INVALID_REFRESH")
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent refresh may win")
}

func TestService_Logout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, result.RefreshToken))

	sessions, err := env.svc.Sessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Idempotent for unknown and empty tokens.
	assert.NoError(t, env.svc.Logout(ctx, result.RefreshToken))
	assert.NoError(t, env.svc.Logout(ctx, ""))
}

func TestService_LogoutAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.register(t, "ada", "ada@example.com", "correct horse")
	grace := env.register(t, "grace", "grace@example.com", "other password")

	for i := 0; i < 3; i++ {
		_, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
		require.NoError(t, err)
	}
	graceLogin, err := env.svc.Login(ctx, "grace", "other password", "", "", "")
	require.NoError(t, err)

	require.NoError(t, env.svc.LogoutAll(ctx, ada.ID))

	adaSessions, err := env.svc.Sessions(ctx, ada.ID)
	require.NoError(t, err)
	assert.Empty(t, adaSessions)

	// Other users' sessions are untouched.
	graceSessions, err := env.svc.Sessions(ctx, grace.ID)
	require.NoError(t, err)
	assert.Len(t, graceSessions, 1)
	assert.Equal(t, graceLogin.User.ID, graceSessions[0].UserID)
}

func TestService_Sessions_Ordering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	var tokens []string
	for i := 0; i < 3; i++ {
		result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
		require.NoError(t, err)
		tokens = append(tokens, result.RefreshToken)
		time.Sleep(2 * time.Millisecond)
	}

	// Refreshing the oldest session bumps it to the front.
	_, _, err := env.svc.Refresh(ctx, tokens[0])
	require.NoError(t, err)

	sessions, err := env.svc.Sessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	for i := 1; i < len(sessions); i++ {
		assert.False(t, sessions[i].LastActivity.After(sessions[i-1].LastActivity),
			"sessions are ordered most recently active first")
	}
}

func TestService_CurrentUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	got, err := env.svc.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Username)

	_, err = env.svc.CurrentUser(ctx, ulid.Make())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_NOT_FOUND")
}

func TestService_TwoFactorLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	secret, err := env.svc.GenerateTwoFactorSecret(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, secret.Secret)
	assert.Contains(t, secret.EnrollmentURI, "otpauth://")

	t.Run("generation alone enables nothing", func(t *testing.T) {
		stored, err := env.users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, stored.TwoFactorEnabled)
		assert.Nil(t, stored.TwoFactorSecret)
	})

	t.Run("enable requires a valid code", func(t *testing.T) {
		err := env.svc.EnableTwoFactor(ctx, user.ID, secret.Secret, "000000")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOTP_ENROLL")

		err = env.svc.EnableTwoFactor(ctx, user.ID, "", totpCodeNow(t, secret.Secret))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_TOTP_ENROLL")
	})

	t.Run("enable commits the secret", func(t *testing.T) {
		require.NoError(t, env.svc.EnableTwoFactor(ctx, user.ID, secret.Secret, totpCodeNow(t, secret.Secret)))

		stored, err := env.users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, stored.TwoFactorEnabled)
		require.NotNil(t, stored.TwoFactorSecret)
		assert.Equal(t, secret.Secret, *stored.TwoFactorSecret)
	})

	t.Run("disable requires the password", func(t *testing.T) {
		err := env.svc.DisableTwoFactor(ctx, user.ID, "wrong")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_CREDENTIALS")

		require.NoError(t, env.svc.DisableTwoFactor(ctx, user.ID, "correct horse"))

		stored, err := env.users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.False(t, stored.TwoFactorEnabled)
		assert.Nil(t, stored.TwoFactorSecret)
	})
}

func TestService_SweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	live, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
		require.NoError(t, err)
		session, err := env.sessions.GetByRefreshToken(ctx, result.RefreshToken)
		require.NoError(t, err)
		env.sessions.mu.Lock()
		env.sessions.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Hour)
		env.sessions.mu.Unlock()
	}

	count, err := env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sessions, err := env.svc.Sessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, live.RefreshToken, sessionRefresh(t, env, sessions[0].ID))

	// Second sweep finds nothing.
	count, err = env.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_LoginStores2FAPendingNoTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "ada", "ada@example.com", "correct horse")

	secret, err := env.svc.GenerateTwoFactorSecret(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, env.svc.EnableTwoFactor(ctx, user.ID, secret.Secret, totpCodeNow(t, secret.Secret)))

	result, err := env.svc.Login(ctx, "ada", "correct horse", "", "", "")
	require.NoError(t, err)
	require.True(t, result.RequiresTwoFactor)
	assert.NotNil(t, result.User)
}

func mustUserID(t *testing.T, env *testEnv, username string) ulid.ULID {
	t.Helper()
	user, err := env.users.GetByUsername(context.Background(), username)
	require.NoError(t, err)
	return user.ID
}

func sessionRefresh(t *testing.T, env *testEnv, id ulid.ULID) string {
	t.Helper()
	session, err := env.sessions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return session.RefreshToken
}
