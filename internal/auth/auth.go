// Package auth turns a username and PIN into a server-side session and
// resolves bearer tokens back into that session.
//
// The bearer token is an HS256 JWT whose sid claim carries the opaque session
// token. The session row is the source of truth, so logout takes effect
// before the JWT expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/ledger/internal/cache"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/store"
	"kasirinaja/ledger/internal/validate"
	"kasirinaja/ledger/internal/xid"
)

var ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", domain.ErrUnauthenticated)

const issuer = "kasirinaja-ledger"

type Service struct {
	users    store.UserRepository
	sessions cache.SessionCache
	secret   []byte
	ttl      time.Duration
	cacheTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	SessionID string `json:"sid"`
	Role      string `json:"role"`
}

func NewService(users store.UserRepository, sessions cache.SessionCache, secret string, ttl time.Duration, logger zerolog.Logger) *Service {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	if sessions == nil {
		sessions = cache.NoopSessionCache{}
	}
	return &Service{
		users:    users,
		sessions: sessions,
		secret:   []byte(secret),
		ttl:      ttl,
		cacheTTL: 5 * time.Minute,
		log:      logger.With().Str("component", "auth").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	req.Username = normalizeUsername(req.Username)
	req.PIN = strings.TrimSpace(req.PIN)
	if err := validate.Struct(req); err != nil {
		return domain.LoginResponse{}, err
	}

	user, err := s.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPIN(user.PINHash, req.PIN) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, fmt.Errorf("account is inactive: %w", domain.ErrUnauthenticated)
	}

	token, err := xid.Token()
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now()
	session := domain.Session{
		Token:     token,
		UserID:    user.ID,
		Role:      user.Role,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.users.CreateSession(ctx, session); err != nil {
		return domain.LoginResponse{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.sessions.Set(ctx, session, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("session cache write failed")
	}

	signed, err := s.sign(session)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	s.log.Info().Int64("user_id", user.ID).Str("role", user.Role).Msg("login")

	return domain.LoginResponse{
		AccessToken: signed,
		Role:        user.Role,
		UserID:      user.ID,
		ExpiresAt:   session.ExpiresAt.Format(time.RFC3339),
	}, nil
}

// Resolve maps a bearer token to its live session. Every failure is
// reported as domain.ErrUnauthenticated except store outages. A cached
// session is trusted for at most cacheTTL, so a deactivated account loses
// access within that window.
func (s *Service) Resolve(ctx context.Context, bearer string) (domain.Session, error) {
	sid, err := s.parse(bearer)
	if err != nil {
		return domain.Session{}, domain.ErrUnauthenticated
	}

	if cached, ok, err := s.sessions.Get(ctx, sid); err != nil {
		s.log.Warn().Err(err).Msg("session cache read failed")
	} else if ok && cached.Valid(s.now()) {
		return *cached, nil
	}

	session, err := s.users.GetSession(ctx, sid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, domain.ErrUnauthenticated
		}
		return domain.Session{}, err
	}
	if !session.Valid(s.now()) {
		_ = s.users.DeleteSession(ctx, sid)
		return domain.Session{}, domain.ErrUnauthenticated
	}
	user, err := s.users.GetUser(ctx, session.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, err
	}
	if user == nil || !user.Active {
		_ = s.users.DeleteSession(ctx, sid)
		return domain.Session{}, domain.ErrUnauthenticated
	}
	if err := s.sessions.Set(ctx, *session, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Msg("session cache write failed")
	}
	return *session, nil
}

func (s *Service) Logout(ctx context.Context, session domain.Session) error {
	if session.Token == "" {
		return domain.ErrUnauthenticated
	}
	if err := s.users.DeleteSession(ctx, session.Token); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, session.Token); err != nil {
		s.log.Warn().Err(err).Msg("session cache delete failed")
	}
	return nil
}

func (s *Service) Me(ctx context.Context, session domain.Session) (*domain.User, error) {
	if !session.Valid(s.now()) {
		return nil, domain.ErrUnauthenticated
	}
	user, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

type NewUser struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Name     string `json:"name" validate:"required,max=120"`
	Role     string `json:"role" validate:"required,oneof=ADMIN CASHIER"`
	PIN      string `json:"pin" validate:"required,min=4,max=12,numeric"`
}

// CreateUser stores a new account with a bcrypt hashed PIN.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*domain.User, error) {
	in.Username = normalizeUsername(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	in.PIN = strings.TrimSpace(in.PIN)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if strings.ContainsAny(in.Username, " \t\r\n") {
		return nil, domain.NewValidationError("username", "must not contain spaces")
	}
	if err := CheckPINStrength(in.PIN); err != nil {
		return nil, domain.NewValidationError("pin", err.Error())
	}

	hash, err := hashPIN(in.PIN)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}
	user, err := s.users.CreateUser(ctx, domain.User{
		Username: in.Username,
		Name:     in.Name,
		Role:     in.Role,
		PINHash:  hash,
		Active:   true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domain.NewValidationError("username", "already exists")
		}
		return nil, err
	}
	return user, nil
}

// SetActive enables or disables an account. Disabling drops its sessions.
func (s *Service) SetActive(ctx context.Context, username string, active bool) (*domain.User, error) {
	user, err := s.users.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewValidationError("username", "does not exist")
		}
		return nil, err
	}
	updated, err := s.users.SetUserActive(ctx, user.ID, active)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("user_id", updated.ID).Bool("active", active).Msg("account status changed")
	return updated, nil
}

func (s *Service) sign(session domain.Session) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(session.UserID, 10),
			IssuedAt:  jwtlib.NewNumericDate(session.CreatedAt),
			ExpiresAt: jwtlib.NewNumericDate(session.ExpiresAt),
			Issuer:    issuer,
		},
		SessionID: session.Token,
		Role:      session.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parse(tokenStr string) (string, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(issuer), jwtlib.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}
	if claims.SessionID == "" {
		return "", errors.New("token has no session")
	}
	return claims.SessionID, nil
}

// CheckPINStrength rejects PINs that are all the same digit, sequential
// (ascending or descending) or on a known-weak list.
func CheckPINStrength(pin string) error {
	known := map[string]bool{
		"1234": true, "4321": true, "0000": true, "1111": true,
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return errors.New("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return errors.New("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return errors.New("sequential PIN not allowed")
	}
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPIN(stored string, input string) bool {
	if stored == "" || input == "" || !isPINHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPIN(pin string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPINHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
