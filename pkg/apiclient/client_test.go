package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/renew/internal/authserver"
	"git.sr.ht/~jakintosh/renew/internal/testutil"
	"git.sr.ht/~jakintosh/renew/pkg/apiclient"
	"git.sr.ht/~jakintosh/renew/pkg/session"
)

type clientEnv struct {
	*testutil.TestEnv
	Client      *apiclient.Client
	Manager     *session.Manager
	Store       *session.MemoryStore
	ClientClock *testutil.Clock
	expired     atomic.Int32
}

func setupClient(t *testing.T, opts ...authserver.Option) *clientEnv {
	t.Helper()
	env := &clientEnv{TestEnv: testutil.SetupTestEnvWithServer(t, opts...)}

	env.ClientClock = testutil.NewClock(env.Clock.Now())
	env.Store = session.NewMemoryStore()
	logger := testutil.DiscardLogger()
	exchanger := apiclient.NewExchanger(env.Server.URL, apiclient.WithLogger(logger))
	env.Manager = session.New(env.Store, exchanger,
		session.WithClock(env.ClientClock.Now),
		session.WithLogger(logger),
		session.WithSessionExpiredHandler(func(error) { env.expired.Add(1) }),
	)
	env.Client = apiclient.New(env.Server.URL, env.Manager, apiclient.WithLogger(logger))
	return env
}

func (env *clientEnv) login(t *testing.T) {
	t.Helper()
	env.RegisterTestUser(t, "alice", "password")
	_, err := env.Client.Login(context.Background(), apiclient.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)
}

func TestLogin_InstallsSession(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.RegisterTestUser(t, "alice", "password")

	user, err := env.Client.Login(context.Background(), apiclient.LoginRequest{Username: "alice", Password: "password"})
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)

	// the session is live with the server's lifetime
	require.True(t, env.Manager.IsAuthenticated())
	require.Equal(t, int64(authserver.DefaultAccessTTL.Seconds()), env.Manager.RemainingSeconds())
	require.Equal(t, 3, env.Store.Len())
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.RegisterTestUser(t, "alice", "password")

	_, err := env.Client.Login(context.Background(), apiclient.LoginRequest{Username: "alice", Password: "nope"})
	require.True(t, apiclient.IsUnauthorized(err))
	require.False(t, env.Manager.IsAuthenticated())
}

func TestRegister_InstallsSession(t *testing.T) {
	t.Parallel()
	env := setupClient(t)

	user, err := env.Client.Register(context.Background(), apiclient.RegisterRequest{
		Username: "bob",
		Password: "password",
		Email:    "bob@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", user.Email)
	require.True(t, env.Manager.IsAuthenticated())
}

func TestRequest_ValidTokenNoRefresh(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.login(t)

	// a valid session goes straight through
	user, err := env.Client.UserInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Zero(t, env.Service.RefreshCalls())
}

func TestRequest_UnauthorizedRenewsAndRetriesOnce(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.login(t)
	before, _ := env.Manager.AccessToken()

	// the server considers the token expired, the client doesn't yet
	env.Clock.Advance(authserver.DefaultAccessTTL + time.Minute)

	user, err := env.Client.UserInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, int64(1), env.Service.RefreshCalls())

	after, _ := env.Manager.AccessToken()
	require.NotEqual(t, before, after)
}

func TestRequest_ConcurrentCallersShareRenewal(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.login(t)

	// the client's early expiry rule kicks in
	env.ClientClock.Advance(authserver.DefaultAccessTTL - session.EarlyExpiry)
	require.False(t, env.Manager.IsAuthenticated())

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Go(func() {
			_, errs[i] = env.Client.UserInfo(context.Background())
		})
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), env.Service.RefreshCalls())
}

func TestRequest_RejectedRefreshExpiresSession(t *testing.T) {
	t.Parallel()
	env := setupClient(t, authserver.WithTokenLifetimes(10*time.Minute, 20*time.Minute))
	env.login(t)

	// both tokens are dead on the server
	env.Clock.Advance(time.Hour)

	_, err := env.Client.UserInfo(context.Background())
	require.ErrorIs(t, err, apiclient.ErrSessionExpired)
	require.ErrorIs(t, err, session.ErrRefreshRejected)
	require.True(t, apiclient.SessionExpired(err))

	require.False(t, env.Manager.IsAuthenticated())
	require.Zero(t, env.Store.Len())
	require.Equal(t, int32(1), env.expired.Load())
}

func TestRequest_NoSession(t *testing.T) {
	t.Parallel()
	env := setupClient(t)

	// logged out callers never reach the network
	_, err := env.Client.UserInfo(context.Background())
	require.ErrorIs(t, err, apiclient.ErrSessionExpired)
	require.ErrorIs(t, err, session.ErrNoRefreshToken)
	require.Zero(t, env.Service.RefreshCalls())
}

func TestLogout_RevokesAndClears(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.login(t)
	state, ok := env.Manager.State()
	require.True(t, ok)

	require.NoError(t, env.Client.Logout(context.Background()))
	require.False(t, env.Manager.IsAuthenticated())
	require.Zero(t, env.Store.Len())

	// the server no longer honors the refresh token
	_, err := env.Service.Refresh(state.RefreshToken)
	require.ErrorIs(t, err, authserver.ErrTokenInvalid)

	// logging out again is harmless
	require.NoError(t, env.Client.Logout(context.Background()))
}

func TestLogout_ServerDownStillClears(t *testing.T) {
	t.Parallel()
	env := setupClient(t)
	env.login(t)

	env.Server.Close()
	require.NoError(t, env.Client.Logout(context.Background()))
	require.False(t, env.Manager.IsAuthenticated())
}

type stubBackend struct {
	refreshes atomic.Int32
	hits      atomic.Int32
	headers   chan http.Header
}

func (b *stubBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		n := b.refreshes.Add(1)
		writeEnvelope(t, w, http.StatusOK, map[string]any{
			"token":        "access-" + string(rune('0'+n)),
			"refreshToken": "refresh-" + string(rune('0'+n)),
			"expiresIn":    3600,
		})
	})
	mux.HandleFunc("GET /always-401", func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		writeEnvelope(t, w, http.StatusUnauthorized, nil)
	})
	mux.HandleFunc("GET /business-error", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 4001, "message": "quota exceeded"})
	})
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		if b.headers != nil {
			b.headers <- r.Header.Clone()
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeEnvelope(t, w, http.StatusOK, body)
	})
	return mux
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(authserver.Envelope{
		Code:      status,
		Message:   http.StatusText(status),
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

func setupStub(t *testing.T) (*stubBackend, *apiclient.Client, *session.Manager) {
	t.Helper()
	backend := &stubBackend{headers: make(chan http.Header, 1)}
	server := httptest.NewServer(backend.handler(t))
	t.Cleanup(server.Close)

	logger := testutil.DiscardLogger()
	m := session.New(session.NewMemoryStore(), apiclient.NewExchanger(server.URL), session.WithLogger(logger))
	require.NoError(t, m.SetTokens(session.TokenPair{AccessToken: "A1", RefreshToken: "R1", ExpiresIn: 3600}))
	return backend, apiclient.New(server.URL, m, apiclient.WithLogger(logger)), m
}

func TestRequest_SecondUnauthorizedSurfaces(t *testing.T) {
	t.Parallel()
	backend, client, m := setupStub(t)

	// the retry is attempted once and its 401 is returned as is
	err := client.Get(context.Background(), "/always-401", nil)
	require.True(t, apiclient.IsUnauthorized(err))
	require.False(t, apiclient.SessionExpired(err))
	require.Equal(t, int32(2), backend.hits.Load())
	require.Equal(t, int32(1), backend.refreshes.Load())

	// the renewed session is kept
	token, _ := m.AccessToken()
	require.Equal(t, "access-1", token)
}

func TestRequest_BusinessCodeIsError(t *testing.T) {
	t.Parallel()
	_, client, _ := setupStub(t)

	err := client.Get(context.Background(), "/business-error", nil)
	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusOK, apiErr.Status)
	require.Equal(t, 4001, apiErr.Code)
	require.Equal(t, "quota exceeded", apiErr.Message)
}

func TestRequest_BearerAndRequestID(t *testing.T) {
	t.Parallel()
	backend, client, _ := setupStub(t)

	var out map[string]any
	err := client.Post(context.Background(), "/echo", map[string]string{"hello": "world"}, &out)
	require.NoError(t, err)
	require.Equal(t, "world", out["hello"])

	headers := <-backend.headers
	require.Equal(t, "Bearer A1", headers.Get("Authorization"))
	require.NotEmpty(t, headers.Get("X-Request-ID"))
	require.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestRequest_SkipAuthSendsNoToken(t *testing.T) {
	t.Parallel()
	backend, client, _ := setupStub(t)

	err := client.Post(context.Background(), "/echo", map[string]string{}, nil, apiclient.SkipAuth())
	require.NoError(t, err)

	headers := <-backend.headers
	require.Empty(t, headers.Get("Authorization"))
}
