package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/golang-jwt/jwt/v5"
)

// TicketParam is the query parameter that may carry a ticket
const TicketParam = "ticket"

// ErrUnauthorized is returned when credentials are missing or rejected
var ErrUnauthorized = errors.New("unauthorized")

type ticketClaims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// TicketService issues and validates signed login tickets
type TicketService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTicketService creates a ticket service signing with HS256
func NewTicketService(secret string, ttl time.Duration) *TicketService {
	return &TicketService{secret: []byte(secret), ttl: ttl, issuer: "webscript"}
}

// Issue returns a ticket for the principal and its expiry
func (s *TicketService) Issue(p security.Principal) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.ttl)
	claims := ticketClaims{
		Admin: p.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	ticket, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign ticket: %w", err)
	}
	return ticket, expires, nil
}

// Validate verifies a ticket and returns the username it was issued to
func (s *TicketService) Validate(ticket string) (string, error) {
	var claims ticketClaims
	token, err := jwt.ParseWithClaims(ticket, &claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid ticket", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Authenticator resolves the credentials presented with a request
type Authenticator struct {
	tickets     *TicketService
	users       repo.AuthenticationService
	authorities repo.AuthorityService
}

// NewAuthenticator creates an authenticator. tickets may be nil to accept
// HTTP Basic credentials only.
func NewAuthenticator(tickets *TicketService, users repo.AuthenticationService, authorities repo.AuthorityService) *Authenticator {
	return &Authenticator{tickets: tickets, users: users, authorities: authorities}
}

// Tickets returns the ticket service
func (a *Authenticator) Tickets() *TicketService {
	return a.tickets
}

// Authenticate verifies the credentials on r. presented is false when the
// request carries none; err wraps ErrUnauthorized when they are rejected.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (p security.Principal, presented bool, err error) {
	if ticket := bearer(r); ticket != "" {
		p, err = a.fromTicket(ctx, ticket)
		return p, true, err
	}
	if ticket := r.URL.Query().Get(TicketParam); ticket != "" {
		p, err = a.fromTicket(ctx, ticket)
		return p, true, err
	}
	if username, password, ok := r.BasicAuth(); ok {
		p, err = a.Login(ctx, username, password)
		return p, true, err
	}
	return security.Principal{}, false, nil
}

// Login verifies a username and password against the repository
func (a *Authenticator) Login(ctx context.Context, username, password string) (security.Principal, error) {
	if err := a.users.Authenticate(ctx, username, password); err != nil {
		return security.Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return a.principal(ctx, username)
}

func (a *Authenticator) fromTicket(ctx context.Context, ticket string) (security.Principal, error) {
	if a.tickets == nil {
		return security.Principal{}, fmt.Errorf("%w: tickets are not enabled", ErrUnauthorized)
	}
	username, err := a.tickets.Validate(ticket)
	if err != nil {
		return security.Principal{}, err
	}
	exists, err := a.users.UserExists(ctx, username)
	if err != nil {
		return security.Principal{}, err
	}
	if !exists {
		return security.Principal{}, fmt.Errorf("%w: unknown user %s", ErrUnauthorized, username)
	}
	return a.principal(ctx, username)
}

func (a *Authenticator) principal(ctx context.Context, username string) (security.Principal, error) {
	admin, err := a.authorities.IsAdmin(ctx, username)
	if err != nil {
		return security.Principal{}, err
	}
	authorities, err := a.authorities.GetAuthorities(ctx, username)
	if err != nil {
		return security.Principal{}, err
	}
	return security.Principal{
		Username:    username,
		Admin:       admin,
		Guest:       a.authorities.IsGuest(username),
		Authorities: authorities,
	}, nil
}

func bearer(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
