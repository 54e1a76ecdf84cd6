package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/MrEthical07/posauth"
	"github.com/MrEthical07/posauth/internal/audit"
	"github.com/MrEthical07/posauth/jwt"
	"github.com/MrEthical07/posauth/metrics"
	"github.com/MrEthical07/posauth/permission"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeVerifier map[string]*jwt.Claims

func (f fakeVerifier) VerifyAccess(token string) (*jwt.Claims, error) {
	if token == "expired" {
		return nil, posauth.ErrAccessTokenExpired
	}
	claims, ok := f[token]
	if !ok {
		return nil, posauth.ErrInvalidAccessToken
	}
	return claims, nil
}

func claimsFor(id, role string) *jwt.Claims {
	c := &jwt.Claims{Role: role, Kind: jwt.KindAccess}
	c.Subject = id
	return c
}

var tokens = fakeVerifier{
	"admin":   claimsFor("a-1", "ADMIN"),
	"manager": claimsFor("m-1", "MANAGER"),
	"cashier": claimsFor("c-1", "CASHIER"),
}

func newServer(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	hub, err := NewHub(tokens, cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func TestHandshakeRejectedBeforeUpgrade(t *testing.T) {
	_, srv := newServer(t, Config{RequiredRole: "MANAGER", Authorizer: permission.DefaultHierarchies()})

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "no token", query: "", status: http.StatusUnauthorized},
		{name: "unknown token", query: "?token=bogus", status: http.StatusUnauthorized},
		{name: "expired token", query: "?token=expired", status: http.StatusUnauthorized},
		{name: "insufficient role", query: "?token=cashier", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := dial(t, wsURL(srv)+tt.query, nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestBroadcastReachesSubscribers(t *testing.T) {
	m := metrics.New("test")
	hub, srv := newServer(t, Config{Metrics: m})

	byQuery, _, err := dial(t, wsURL(srv)+"?token=manager", nil)
	require.NoError(t, err)
	defer byQuery.Close()

	byHeader, _, err := dial(t, wsURL(srv), http.Header{"Authorization": {"Bearer admin"}})
	require.NoError(t, err)
	defer byHeader.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RealtimeClients))

	hub.Emit(context.Background(), audit.Event{Type: audit.SignInSucceeded, AccountID: "c-1", Success: true})

	for _, conn := range []*websocket.Conn{byQuery, byHeader} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "audit", msg.Type)
		assert.Equal(t, audit.SignInSucceeded, msg.Data.Type)
		assert.Equal(t, "c-1", msg.Data.AccountID)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	m := metrics.New("test")
	hub, srv := newServer(t, Config{Metrics: m})

	conn, _, err := dial(t, wsURL(srv)+"?token=admin", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RealtimeClients))
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	hub, srv := newServer(t, Config{})

	conn, _, err := dial(t, wsURL(srv)+"?token=admin", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	_, resp, err := dial(t, wsURL(srv)+"?token=admin", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewHubValidation(t *testing.T) {
	_, err := NewHub(nil, Config{})
	assert.Error(t, err)

	_, err = NewHub(tokens, Config{RequiredRole: "ADMIN"})
	assert.Error(t, err)
}
