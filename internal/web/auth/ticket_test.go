package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/conduit-lang/webscript/internal/repo/sqlstore"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthenticator(t *testing.T) (*Authenticator, *TicketService) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	_, err = store.Bootstrap(ctx, "secret")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, "bob", "hunter2", false))

	tickets := NewTicketService("test-secret", time.Hour)
	return NewAuthenticator(tickets, store, store), tickets
}

func TestTicketService_RoundTrip(t *testing.T) {
	s := NewTicketService("k", time.Hour)

	ticket, expires, err := s.Issue(security.Principal{Username: "bob"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	username, err := s.Validate(ticket)
	require.NoError(t, err)
	assert.Equal(t, "bob", username)
}

func TestTicketService_Rejects(t *testing.T) {
	s := NewTicketService("k", time.Hour)

	other, _, err := NewTicketService("other", time.Hour).Issue(security.Principal{Username: "bob"})
	require.NoError(t, err)
	_, err = s.Validate(other)
	assert.ErrorIs(t, err, ErrUnauthorized)

	expired, _, err := NewTicketService("k", -time.Minute).Issue(security.Principal{Username: "bob"})
	require.NoError(t, err)
	_, err = s.Validate(expired)
	assert.ErrorIs(t, err, ErrUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "bob", "iss": "webscript"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Validate(none)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.Validate("garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticator_Credentials(t *testing.T) {
	a, tickets := setupAuthenticator(t)
	ctx := context.Background()
	ticket, _, err := tickets.Issue(security.Principal{Username: "admin"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		prepare   func(r *http.Request)
		presented bool
		user      string
		admin     bool
		wantErr   bool
	}{
		{"none", func(r *http.Request) {}, false, "", false, false},
		{"basic", func(r *http.Request) { r.SetBasicAuth("bob", "hunter2") }, true, "bob", false, false},
		{"basic wrong password", func(r *http.Request) { r.SetBasicAuth("bob", "nope") }, true, "", false, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+ticket) }, true, "admin", true, false},
		{"query ticket", func(r *http.Request) { r.URL.RawQuery = "ticket=" + ticket }, true, "admin", true, false},
		{"bad ticket", func(r *http.Request) { r.URL.RawQuery = "ticket=bad" }, true, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.prepare(r)

			p, presented, err := a.Authenticate(ctx, r)
			assert.Equal(t, tt.presented, presented)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, p.Username)
			assert.Equal(t, tt.admin, p.Admin)
		})
	}
}

func TestAuthenticator_TicketForDeletedUser(t *testing.T) {
	a, tickets := setupAuthenticator(t)
	ticket, _, err := tickets.Issue(security.Principal{Username: "ghost"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+ticket)
	_, _, err = a.Authenticate(context.Background(), r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticator_Login(t *testing.T) {
	a, _ := setupAuthenticator(t)

	p, err := a.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.True(t, p.Admin)
	assert.Contains(t, p.Authorities, "GROUP_EVERYONE")
}
