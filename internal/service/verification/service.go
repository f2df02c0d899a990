// Package verification runs the email OTP flow: issuing codes, keeping them
// in both the durable store and the cache, checking submitted codes and
// marking users verified.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.cambio/internal/cache"
	"uk.co.dudmesh.cambio/internal/mailer"
	"uk.co.dudmesh.cambio/internal/model"
	"uk.co.dudmesh.cambio/pkg/otp"
)

const (
	DefaultMaxAttempts = 5

	// cached codes outlive their expiry so a late submission is reported
	// as expired rather than missing
	staleGrace  = time.Hour
	attemptsTTL = 24 * time.Hour
)

type Repository interface {
	FindByEmail(ctx context.Context, email string) ([]model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	UpsertUser(ctx context.Context, user *model.User) (*model.User, error)
	MarkVerified(ctx context.Context, email string) (int, error)
	SaveCode(ctx context.Context, code model.PendingCode) (int, error)
	GetCode(ctx context.Context, email string) (*model.PendingCode, error)
	ClearCode(ctx context.Context, email string) error
}

type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, code string, opts ...mailer.SendOption) error
}

type Notifier interface {
	Registration(email, name string) bool
	Verification(email string) bool
}

type Config struct {
	// LimitAttempts turns on the per-day incorrect attempt limit.
	LimitAttempts bool
	MaxAttempts   int
}

type Service struct {
	repo     Repository
	cache    cache.Store
	mailer   Mailer
	notifier Notifier
	config   Config
	clock    cache.Clock
	generate otp.Generator

	mu     sync.Mutex
	saving map[string]struct{}
}

type Option func(*Service)

func WithClock(clock cache.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithGenerator(generate otp.Generator) Option {
	return func(s *Service) { s.generate = generate }
}

func New(repo Repository, store cache.Store, mailer Mailer, notifier Notifier, config Config, opts ...Option) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	s := &Service{
		repo:     repo,
		cache:    store,
		mailer:   mailer,
		notifier: notifier,
		config:   config,
		clock:    cache.SystemClock,
		generate: otp.Generate,
		saving:   map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureUser returns the first user registered under email, creating an
// unverified one when there is none. created reports whether it was new.
func (s *Service) EnsureUser(ctx context.Context, email, name string) (user *model.User, created bool, err error) {
	users, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("finding user: %w", err)
	}
	if len(users) > 0 {
		return &users[0], false, nil
	}

	user = model.NewUser(email, name, s.clock.Now())
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}
	log.Infof("verification: provisioned user %s for %s", user.ID, user.Email)
	s.notifier.Registration(user.Email, user.Name)
	return user, true, nil
}

// Register creates or updates the user for params.Email. An empty name keeps
// the stored one and verification is never revoked.
func (s *Service) Register(ctx context.Context, params *model.RegisterUserParams) (*model.User, error) {
	existing, err := s.repo.FindByEmail(ctx, params.Email)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	now := s.clock.Now()
	user := &model.User{
		ID:               model.UserIDAt(now),
		Email:            model.NormalizeEmail(params.Email),
		Name:             strings.TrimSpace(params.Name),
		RegistrationDate: now.UTC(),
		Verified:         params.Verified,
	}
	if ref := strings.TrimSpace(params.ReferredBy); ref != "" {
		user.ReferredBy = &ref
	}

	stored, err := s.repo.UpsertUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	if params.Verified {
		s.dropCachedCode(ctx, stored.Email)
	}
	if len(existing) == 0 {
		s.notifier.Registration(stored.Email, stored.Name)
	}
	return stored, nil
}

// IssueCode generates a fresh code for email, stores it and mails it,
// provisioning the user first if needed.
func (s *Service) IssueCode(ctx context.Context, email, name, requestID string) (string, error) {
	user, _, err := s.EnsureUser(ctx, email, name)
	if err != nil {
		return "", err
	}

	code := s.generate()
	if err := s.SaveCode(ctx, user.Email, code, requestID); err != nil {
		return "", err
	}

	if name == "" {
		name = user.Name
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, name, code); err != nil {
		return "", err
	}
	return code, nil
}

// SaveCode stores code for email in the cache and the durable store. Only one
// save per email may run at a time; a concurrent caller gets
// ErrorSaveInProgress and should retry shortly.
//
// A durable failure other than ErrorUserNotFound is logged and masked by the
// cached copy.
func (s *Service) SaveCode(ctx context.Context, email, code, requestID string) error {
	email = model.NormalizeEmail(email)
	if !s.lock(email) {
		return model.ErrorSaveInProgress
	}
	defer s.unlock(email)

	entry := model.PendingCode{
		Email:     email,
		Code:      code,
		ExpiresAt: s.clock.Now().Add(model.VerificationCodeTTL).UTC(),
		RequestID: requestID,
	}

	cacheErr := cache.SetJSON(ctx, s.cache, codeKey(email), entry, model.VerificationCodeTTL+staleGrace)
	if cacheErr != nil {
		log.Warnf("verification: caching code for %s: %+v", email, cacheErr)
	}

	_, err := s.repo.SaveCode(ctx, entry)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrorUserNotFound):
		s.dropCachedCode(ctx, email)
		return err
	case cacheErr != nil:
		return fmt.Errorf("saving verification code: %w", errors.Join(err, cacheErr))
	default:
		log.Errorf("verification: storing code for %s, continuing from cache: %+v", email, err)
		return nil
	}
}

// VerifyCode checks code against the pending code for email. It returns nil
// when the code matched and the user is now verified, otherwise one of
// ErrorTooManyAttempts, ErrorNoActiveCode, ErrorCodeExpired or
// ErrorCodeIncorrect, or a wrapped storage error.
func (s *Service) VerifyCode(ctx context.Context, email, code string) error {
	email = model.NormalizeEmail(email)
	now := s.clock.Now()

	if s.config.LimitAttempts {
		attempts, err := s.attempts(ctx, email, now)
		if err != nil {
			log.Warnf("verification: reading attempts for %s: %+v", email, err)
		} else if attempts >= s.config.MaxAttempts {
			return model.ErrorTooManyAttempts
		}
	}

	pending, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}

	if pending.Expired(now) {
		s.clearCode(ctx, email)
		return model.ErrorCodeExpired
	}

	if strings.TrimSpace(code) != pending.Code {
		if s.config.LimitAttempts {
			s.countAttempt(ctx, email, now)
		}
		return model.ErrorCodeIncorrect
	}

	if _, err := s.MarkVerified(ctx, email); err != nil {
		return err
	}
	s.clearCode(ctx, email)
	if s.config.LimitAttempts {
		if err := s.cache.Del(ctx, attemptsKey(email, now)); err != nil {
			log.Warnf("verification: resetting attempts for %s: %+v", email, err)
		}
	}
	s.notifier.Verification(email)
	return nil
}

// MarkVerified sets verified on every user registered under email and
// reports how many records changed. Users that do not exist yet are
// provisioned first.
func (s *Service) MarkVerified(ctx context.Context, email string) (int, error) {
	n, err := s.repo.MarkVerified(ctx, email)
	if errors.Is(err, model.ErrorUserNotFound) {
		if _, _, err := s.EnsureUser(ctx, email, ""); err != nil {
			return 0, err
		}
		n, err = s.repo.MarkVerified(ctx, email)
	}
	if err != nil {
		return 0, fmt.Errorf("marking %s verified: %w", email, err)
	}
	s.dropCachedCode(ctx, email)
	return n, nil
}

// lookup finds the pending code in the cache, falling back to the store.
func (s *Service) lookup(ctx context.Context, email string) (*model.PendingCode, error) {
	pending := &model.PendingCode{}
	found, err := cache.GetJSON(ctx, s.cache, codeKey(email), pending)
	if err != nil {
		log.Warnf("verification: reading cached code for %s: %+v", email, err)
	}
	if found {
		return pending, nil
	}

	pending, err = s.repo.GetCode(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrorNoActiveCode) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching verification code: %w", err)
	}
	return pending, nil
}

func (s *Service) clearCode(ctx context.Context, email string) {
	s.dropCachedCode(ctx, email)
	if err := s.repo.ClearCode(ctx, email); err != nil {
		log.Warnf("verification: clearing stored code for %s: %+v", email, err)
	}
}

func (s *Service) dropCachedCode(ctx context.Context, email string) {
	if err := s.cache.Del(ctx, codeKey(model.NormalizeEmail(email))); err != nil {
		log.Warnf("verification: clearing cached code for %s: %+v", email, err)
	}
}

func (s *Service) attempts(ctx context.Context, email string, now time.Time) (int, error) {
	raw, found, err := s.cache.Get(ctx, attemptsKey(email, now))
	if err != nil || !found {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}

func (s *Service) countAttempt(ctx context.Context, email string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts, err := s.attempts(ctx, email, now)
	if err != nil {
		log.Warnf("verification: reading attempts for %s: %+v", email, err)
	}
	key := attemptsKey(email, now)
	if err := s.cache.Set(ctx, key, []byte(strconv.Itoa(attempts+1)), attemptsTTL); err != nil {
		log.Warnf("verification: counting attempt for %s: %+v", email, err)
	}
}

func (s *Service) lock(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.saving[email]; busy {
		return false
	}
	s.saving[email] = struct{}{}
	return true
}

func (s *Service) unlock(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saving, email)
}

func codeKey(email string) string {
	return "code:" + email
}

func attemptsKey(email string, now time.Time) string {
	return "attempts:" + email + ":" + now.UTC().Format(time.DateOnly)
}
