package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/pkg/auth"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
)

const (
	// PurposeChannel marks tickets that may only open a real-time channel.
	PurposeChannel   = "ws"
	defaultTicketTTL = 60 * time.Second
)

var (
	ErrTicketReused  = errors.New("ticket already used")
	ErrWrongPurpose  = errors.New("token has the wrong purpose")
	ErrMissingUserID = errors.New("token has no usable user id")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID  `json:"userId"`
	Role   model.Role `json:"role"`
}

// Ticket is a short-lived credential for opening a real-time channel.
type Ticket struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service struct {
	jwt       auth.JWTService
	issuer    string
	ticketTTL time.Duration
	// used holds consumed ticket ids until they would have expired anyway.
	used *cache.Cache
}

func NewService(jwtSvc auth.JWTService, cfg config.JWTConfig) *Service {
	ttl := cfg.TicketTTL
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	return &Service{
		jwt:       jwtSvc,
		issuer:    cfg.Issuer,
		ticketTTL: ttl,
		used:      cache.New(2*ttl, 2*ttl),
	}
}

// Authenticate validates a session token issued by the auth service.
// Channel tickets are not accepted as session tokens.
func (s *Service) Authenticate(_ context.Context, token string) (*Principal, error) {
	claims, err := s.jwt.Parse(token)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}
	if claims.Purpose != "" {
		return nil, apperrors.Unauthorized(ErrWrongPurpose)
	}
	return principalFrom(claims)
}

// IssueTicket exchanges an authenticated session for a single-use channel ticket.
func (s *Service) IssueTicket(_ context.Context, p *Principal) (*Ticket, error) {
	claims := auth.NewClaims(s.issuer, p.UserID.String(), string(p.Role), s.ticketTTL)
	claims.ID = uuid.NewString()
	claims.Purpose = PurposeChannel

	signed, err := s.jwt.Sign(claims)
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}
	return &Ticket{Ticket: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// ValidateTicket checks signature, expiry and purpose, then consumes the
// ticket so a second use fails.
func (s *Service) ValidateTicket(_ context.Context, ticket string) (*Principal, error) {
	claims, err := s.jwt.Parse(ticket)
	if err != nil {
		return nil, apperrors.Unauthorized(err)
	}
	if claims.Purpose != PurposeChannel {
		return nil, apperrors.Unauthorized(ErrWrongPurpose)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, apperrors.Unauthorized(fmt.Errorf("unexpected issuer %q", claims.Issuer))
	}
	if claims.ID == "" {
		return nil, apperrors.Unauthorized(errors.New("ticket has no id"))
	}

	p, err := principalFrom(claims)
	if err != nil {
		return nil, err
	}
	if err := s.used.Add(claims.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return nil, apperrors.Unauthorized(ErrTicketReused)
	}
	return p, nil
}

func principalFrom(claims *auth.Claims) (*Principal, error) {
	raw := claims.UserID
	if raw == "" {
		raw = claims.Subject
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil, apperrors.Unauthorized(ErrMissingUserID)
	}
	return &Principal{UserID: id, Role: model.Role(claims.Role)}, nil
}
