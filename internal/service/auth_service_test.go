package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/queue"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/service/servicetest"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
)

type fixture struct {
	store  *servicetest.Store
	tokens *utils.TokenIssuer
	events *servicetest.Publisher
	svc    *AuthService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	tokens, err := utils.NewTokenIssuer("refresh-secret", "", time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	return newFixtureWithIssuer(t, tokens, opts...)
}

func newFixtureWithIssuer(t *testing.T, tokens *utils.TokenIssuer, opts ...Option) *fixture {
	t.Helper()
	store := servicetest.NewStore()
	events := &servicetest.Publisher{}
	opts = append([]Option{WithEvents(events)}, opts...)
	return &fixture{
		store:  store,
		tokens: tokens,
		events: events,
		svc:    NewAuthService(store, store, tokens, bcrypt.MinCost, opts...),
	}
}

func (f *fixture) register(t *testing.T, name, password string) uint64 {
	t.Helper()
	id, err := f.svc.Register(context.Background(), RegisterInput{AccountName: name, Password: password})
	require.NoError(t, err)
	return id
}

func (f *fixture) login(t *testing.T, name, password, device string) LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), LoginInput{AccountName: name, Password: password},
		DeviceContext{DeviceID: device, IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return res
}

func TestRegister_CreatesUserAndPlaceholder(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "Alice", "secret123")

	u, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.AccountName)
	assert.NotEqual(t, "secret123", u.PasswordHash)
	assert.Equal(t, model.RoleMember, u.Role)
	assert.Equal(t, 1, f.store.Count(id))

	hist, err := f.svc.History(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Equal(t, []string{queue.EventUserRegistered}, f.events.Types())
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")

	_, err := f.svc.Register(context.Background(), RegisterInput{AccountName: "ALICE", Password: "other"})
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestLogin_KeepsRegisteredSpelling(t *testing.T) {
	f := newFixture(t)
	f.register(t, "Alice", "secret123")

	res := f.login(t, "ALICE", "secret123", "phone")
	assert.Equal(t, "Alice", res.User.AccountName)
}

func TestLogin_UnknownAccountAndWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")
	dc := DeviceContext{DeviceID: "phone"}

	_, err := f.svc.Login(context.Background(), LoginInput{AccountName: "bob", Password: "secret123"}, dc)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = f.svc.Login(context.Background(), LoginInput{AccountName: "alice", Password: "wrong"}, dc)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(context.Background(), LoginInput{AccountName: "alice", Password: "secret123"}, DeviceContext{})
	assert.ErrorIs(t, err, ErrMissingDeviceID)
}

func TestLogin_IssuesTokensBoundToSession(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	assert.True(t, res.Created)
	assert.Equal(t, id, res.User.ID)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	claims, err := f.svc.AuthenticateAccess(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, "phone", claims.DeviceID)

	sess, err := f.store.GetByUserAndDevice(context.Background(), id, "phone")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)
	assert.Equal(t, utils.HashRefreshRaw(res.RefreshToken), sess.RefreshTokenHash)
	assert.NotContains(t, sess.RefreshTokenHash, res.RefreshToken)
}

func TestLogin_SameDeviceRotatesInPlace(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "alice", "secret123")
	first := f.login(t, "alice", "secret123", "phone")
	second := f.login(t, "alice", "secret123", "phone")

	assert.False(t, second.Created)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 2, f.store.Count(id))

	_, err := f.svc.AuthenticateAccess(context.Background(), first.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
	_, err = f.svc.Refresh(context.Background(), first.RefreshToken, "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	assert.Equal(t, []string{queue.EventUserRegistered, queue.EventSessionCreated, queue.EventSessionRotated}, f.events.Types())
}

func TestRefresh_RotatesAndInvalidatesOldToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	next, err := f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, next.SessionID)
	assert.NotEqual(t, res.AccessToken, next.AccessToken)
	assert.NotEqual(t, res.RefreshToken, next.RefreshToken)

	_, err = f.svc.AuthenticateAccess(context.Background(), next.AccessToken)
	assert.NoError(t, err)
	_, err = f.svc.AuthenticateAccess(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	_, err = f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_Errors(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "", "phone")
	assert.ErrorIs(t, err, ErrMissingRefreshToken)

	_, err = f.svc.Refresh(ctx, res.RefreshToken, "")
	assert.ErrorIs(t, err, ErrMissingDeviceID)

	_, err = f.svc.Refresh(ctx, "garbage", "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, res.RefreshToken, "laptop")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	long := make([]byte, maxTokenLen+1)
	_, err = f.svc.Refresh(ctx, string(long), "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	tokens, err := utils.NewTokenIssuer("refresh-secret", "", time.Hour, -time.Minute)
	require.NoError(t, err)
	f := newFixtureWithIssuer(t, tokens)
	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	_, err = f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_RejectsTokenSignedWithUnknownSecret(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	require.NoError(t, f.tokens.SetRefreshSecrets("new-secret", ""))
	_, err := f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_AcceptsPreviousSecretAfterReload(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	require.NoError(t, f.tokens.SetRefreshSecrets("new-secret", "refresh-secret"))
	_, err := f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
	assert.NoError(t, err)
}

func TestRefresh_ConcurrentSameTokenOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrInvalidRefreshToken) {
				fail++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, fail)
}

func TestLogout_ForeignDeviceIsForbidden(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	err := f.svc.Logout(context.Background(), id, "laptop")
	assert.ErrorIs(t, err, ErrForbidden)

	other := f.register(t, "bob", "hunter22")
	err = f.svc.Logout(context.Background(), other, "phone")
	assert.ErrorIs(t, err, ErrForbidden)

	sess, err := f.store.GetByUserAndDevice(context.Background(), id, "phone")
	require.NoError(t, err)
	assert.Equal(t, utils.HashRefreshRaw(res.RefreshToken), sess.RefreshTokenHash)
}

func TestLogout_DeletesSessionAndRevokesTokens(t *testing.T) {
	cache := servicetest.NewSecretCache()
	f := newFixture(t, WithSecretCache(cache))
	id := f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")

	_, err := f.svc.AuthenticateAccess(context.Background(), res.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), id, "phone"))
	assert.Equal(t, 1, f.store.Count(id))

	_, err = f.svc.Refresh(context.Background(), res.RefreshToken, "phone")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	_, err = f.svc.AuthenticateAccess(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), id, "phone"), ErrForbidden)
	assert.Contains(t, f.events.Types(), queue.EventSessionRevoked)
}

func TestHistory_TwoDevices(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "alice", "secret123")
	phone := f.login(t, "alice", "secret123", "phone")
	laptop := f.login(t, "alice", "secret123", "laptop")

	assert.NotEqual(t, phone.SessionID, laptop.SessionID)
	assert.Equal(t, 3, f.store.Count(id))

	hist, err := f.svc.History(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "laptop", hist[0].DeviceID)
	assert.Equal(t, "phone", hist[1].DeviceID)
	assert.Equal(t, "10.0.0.1", hist[0].IPAddress)
}

func TestHistory_ScopedPerUser(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "secret123")
	bob := f.register(t, "bob", "hunter22")
	f.login(t, "alice", "secret123", "shared-device")
	f.login(t, "bob", "hunter22", "shared-device")

	for _, id := range []uint64{alice, bob} {
		hist, err := f.svc.History(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	}
}

func TestSecretKey_UsesCache(t *testing.T) {
	cache := servicetest.NewSecretCache()
	f := newFixture(t, WithSecretCache(cache))
	id := f.register(t, "alice", "secret123")
	f.login(t, "alice", "secret123", "phone")
	ctx := context.Background()

	first, err := f.svc.SecretKey(ctx, id, "phone")
	require.NoError(t, err)
	second, err := f.svc.SecretKey(ctx, id, "phone")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.Hits)

	f.login(t, "alice", "secret123", "phone")
	third, err := f.svc.SecretKey(ctx, id, "phone")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestSecretKey_StaleLookupCannotRepopulate(t *testing.T) {
	cache := servicetest.NewSecretCache()
	f := newFixture(t, WithSecretCache(cache))
	id := f.register(t, "alice", "secret123")
	old := f.login(t, "alice", "secret123", "phone")
	ctx := context.Background()

	// A guard lookup that missed before the re-login finishes after it.
	_, gen, ok := cache.Get(ctx, id, "phone")
	require.False(t, ok)
	sess, err := f.store.GetByUserAndDevice(ctx, id, "phone")
	require.NoError(t, err)
	f.login(t, "alice", "secret123", "phone")
	cache.Set(ctx, id, "phone", sess.SecretKey, gen)

	_, err = f.svc.AuthenticateAccess(ctx, old.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.events.Err = errors.New("broker down")

	f.register(t, "alice", "secret123")
	res := f.login(t, "alice", "secret123", "phone")
	assert.NotEmpty(t, res.AccessToken)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "alice", "secret123")

	u, err := f.svc.Me(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.AccountName)

	_, err = f.svc.Me(context.Background(), 999)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
