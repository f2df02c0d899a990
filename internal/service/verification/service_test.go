package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.cambio/internal/cache"
	"uk.co.dudmesh.cambio/internal/mailer"
	"uk.co.dudmesh.cambio/internal/model"
	"uk.co.dudmesh.cambio/internal/store"
)

var start = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

type sentMail struct {
	to, name, code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, to, name, code string, _ ...mailer.SendOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, name, code})
	return nil
}

type fakeNotifier struct {
	mu            sync.Mutex
	registrations []string
	verifications []string
}

func (n *fakeNotifier) Registration(email, _ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registrations = append(n.registrations, email)
	return true
}

func (n *fakeNotifier) Verification(email string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, email)
	return true
}

type fixture struct {
	svc      *Service
	repo     Repository
	cache    *cache.Memory
	clock    *cache.ManualClock
	mailer   *fakeMailer
	notifier *fakeNotifier
	code     string
}

func newFixture(t *testing.T, repo Repository, config Config) *fixture {
	f := &fixture{
		repo:     repo,
		clock:    cache.NewManualClock(start),
		mailer:   &fakeMailer{},
		notifier: &fakeNotifier{},
		code:     "483920",
	}
	f.cache = cache.NewMemoryWithClock(f.clock)
	f.svc = New(repo, f.cache, f.mailer, f.notifier, config,
		WithClock(f.clock),
		WithGenerator(func() string { return f.code }))
	return f
}

func fileRepo(t *testing.T) Repository {
	s, err := store.NewFileStore(t.TempDir())
	require.Nil(t, err)
	return s
}

func sqlRepo(t *testing.T) Repository {
	s, err := store.NewSQLStore(context.Background(), store.DriverSQLite, ":memory:")
	require.Nil(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func repos() map[string]func(t *testing.T) Repository {
	return map[string]func(t *testing.T) Repository{
		"file": fileRepo,
		"sql":  sqlRepo,
	}
}

func verified(t *testing.T, repo Repository, email string) bool {
	users, err := repo.FindByEmail(context.Background(), email)
	require.Nil(t, err)
	require.NotEmpty(t, users)
	for _, u := range users {
		if !u.Verified {
			return false
		}
	}
	return true
}

func TestVerifyFlow(t *testing.T) {
	for name, open := range repos() {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			f := newFixture(t, open(t), Config{})

			code, err := f.svc.IssueCode(ctx, "test@x.com", "", "req-1")
			require.Nil(t, err)
			assert.Equal("483920", code)

			err = f.svc.VerifyCode(ctx, "test@x.com", "000000")
			assert.ErrorIs(err, model.ErrorCodeIncorrect)
			assert.Equal("Código de verificación incorrecto", model.MessageFor(err))
			assert.False(verified(t, f.repo, "test@x.com"))

			assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "483920"))
			assert.True(verified(t, f.repo, "test@x.com"))
			assert.Equal([]string{"test@x.com"}, f.notifier.verifications)

			err = f.svc.VerifyCode(ctx, "test@x.com", "483920")
			assert.ErrorIs(err, model.ErrorNoActiveCode)
			assert.Contains(model.MessageFor(err), "No hay un código de verificación activo")

			users, _ := f.repo.FindByEmail(ctx, "test@x.com")
			assert.Nil(users[0].VerificationCode)
			assert.Nil(users[0].VerificationExpires)
		})
	}
}

func TestExpiredCode(t *testing.T) {
	for name, open := range repos() {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			f := newFixture(t, open(t), Config{})

			_, err := f.svc.IssueCode(ctx, "test@x.com", "", "")
			require.Nil(t, err)

			f.clock.Advance(model.VerificationCodeTTL)
			assert.ErrorIs(f.svc.VerifyCode(ctx, "test@x.com", "483920"), model.ErrorCodeExpired)
			assert.ErrorIs(f.svc.VerifyCode(ctx, "test@x.com", "483920"), model.ErrorNoActiveCode)
			assert.False(verified(t, f.repo, "test@x.com"))
		})
	}
}

func TestStoreFallback(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := sqlRepo(t)

	t.Run("Durable copy is used when the cache is empty", func(t *testing.T) {
		f := newFixture(t, repo, Config{})
		_, err := f.svc.IssueCode(ctx, "cold@x.com", "", "")
		require.Nil(t, err)

		restarted := newFixture(t, repo, Config{})
		assert.Nil(restarted.svc.VerifyCode(ctx, "COLD@x.com", "483920"))
		assert.True(verified(t, repo, "cold@x.com"))
	})

	t.Run("Expired durable copy is purged", func(t *testing.T) {
		f := newFixture(t, repo, Config{})
		_, err := f.svc.IssueCode(ctx, "late@x.com", "", "")
		require.Nil(t, err)

		restarted := newFixture(t, repo, Config{})
		restarted.clock.Advance(time.Hour)
		assert.ErrorIs(restarted.svc.VerifyCode(ctx, "late@x.com", "483920"), model.ErrorCodeExpired)
		_, err = repo.GetCode(ctx, "late@x.com")
		assert.ErrorIs(err, model.ErrorNoActiveCode)
	})
}

type failingRepo struct {
	Repository
	err error
}

func (r *failingRepo) SaveCode(context.Context, model.PendingCode) (int, error) {
	return 0, r.err
}

func TestSaveCode(t *testing.T) {
	ctx := context.Background()

	t.Run("Durable failure is masked by the cache", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t, &failingRepo{Repository: sqlRepo(t), err: errors.New("connection reset")}, Config{})

		_, err := f.svc.IssueCode(ctx, "test@x.com", "", "req-7")
		assert.Nil(err)
		assert.Len(f.mailer.sent, 1)

		cached := model.PendingCode{}
		found, _ := cache.GetJSON(ctx, f.cache, codeKey("test@x.com"), &cached)
		if assert.True(found) {
			assert.Equal("req-7", cached.RequestID)
			assert.True(start.Add(model.VerificationCodeTTL).Equal(cached.ExpiresAt))
		}

		assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "483920"))
		assert.True(verified(t, f.repo, "test@x.com"))
	})

	t.Run("Missing user fails the save", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t, fileRepo(t), Config{})

		err := f.svc.SaveCode(ctx, "nobody@x.com", "123456", "")
		assert.ErrorIs(err, model.ErrorUserNotFound)
		assert.Equal(0, f.cache.Len())
		assert.ErrorIs(f.svc.VerifyCode(ctx, "nobody@x.com", "123456"), model.ErrorNoActiveCode)
	})

	t.Run("A new code replaces the previous one", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t, fileRepo(t), Config{})

		_, err := f.svc.IssueCode(ctx, "test@x.com", "", "")
		require.Nil(t, err)
		f.code = "111111"
		_, err = f.svc.IssueCode(ctx, "test@x.com", "", "")
		require.Nil(t, err)

		assert.ErrorIs(f.svc.VerifyCode(ctx, "test@x.com", "483920"), model.ErrorCodeIncorrect)
		assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "111111"))
	})
}

type blockingRepo struct {
	Repository
	email   string
	entered chan struct{}
	proceed chan struct{}
}

func (r *blockingRepo) SaveCode(ctx context.Context, code model.PendingCode) (int, error) {
	if code.Email == r.email {
		close(r.entered)
		<-r.proceed
	}
	return r.Repository.SaveCode(ctx, code)
}

func TestSaveLock(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := &blockingRepo{Repository: fileRepo(t), email: "test@x.com", entered: make(chan struct{}), proceed: make(chan struct{})}
	f := newFixture(t, repo, Config{})
	for _, email := range []string{"test@x.com", "other@x.com"} {
		_, _, err := f.svc.EnsureUser(ctx, email, "")
		require.Nil(t, err)
	}

	done := make(chan error)
	go func() { done <- f.svc.SaveCode(ctx, "test@x.com", "483920", "") }()
	<-repo.entered

	assert.ErrorIs(f.svc.SaveCode(ctx, "TEST@x.com", "111111", ""), model.ErrorSaveInProgress)
	assert.Nil(f.svc.SaveCode(ctx, "other@x.com", "222222", ""), "other addresses are not blocked")

	close(repo.proceed)
	assert.Nil(<-done)
	assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "483920"))
}

func TestAttemptLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("Limited", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t, fileRepo(t), Config{LimitAttempts: true})
		_, err := f.svc.IssueCode(ctx, "test@x.com", "", "")
		require.Nil(t, err)

		for i := 0; i < DefaultMaxAttempts; i++ {
			assert.ErrorIs(f.svc.VerifyCode(ctx, "test@x.com", "000000"), model.ErrorCodeIncorrect)
		}
		err = f.svc.VerifyCode(ctx, "test@x.com", "483920")
		assert.ErrorIs(err, model.ErrorTooManyAttempts)
		assert.Equal(model.MessageTooManyAttempts, model.MessageFor(err))
		assert.False(verified(t, f.repo, "test@x.com"))

		f.clock.Advance(24 * time.Hour)
		f.code = "654321"
		_, err = f.svc.IssueCode(ctx, "test@x.com", "", "")
		require.Nil(t, err)
		assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "654321"), "the counter resets the next day")
	})

	t.Run("Success resets the counter", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t, fileRepo(t), Config{LimitAttempts: true, MaxAttempts: 2})
		_, err := f.svc.IssueCode(ctx, "test@x.com", "", "")
		require.Nil(t, err)

		assert.ErrorIs(f.svc.VerifyCode(ctx, "test@x.com", "000000"), model.ErrorCodeIncorrect)
		assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "483920"))
		_, found, _ := f.cache.Get(ctx, attemptsKey("test@x.com", start))
		assert.False(found)
	})

	t.Run("Unlimited", func(t *testing.T) {
		assert := assert.New(t)
		f := newFixture(t, sqlRepo(t), Config{})
		_, err := f.svc.IssueCode(ctx, "test@x.com", "", "")
		require.Nil(t, err)

		for i := 0; i < 10; i++ {
			assert.ErrorIs(f.svc.VerifyCode(ctx, "test@x.com", "000000"), model.ErrorCodeIncorrect)
		}
		assert.Nil(f.svc.VerifyCode(ctx, "test@x.com", "483920"))
	})
}

func TestProvisioning(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, fileRepo(t), Config{})

	_, err := f.svc.IssueCode(ctx, "a@b.com", "", "")
	require.Nil(t, err)

	users, _ := f.repo.FindByEmail(ctx, "a@b.com")
	if assert.Len(users, 1) {
		assert.Equal("a", users[0].Name)
		assert.False(users[0].Verified)
		assert.True(start.Equal(users[0].RegistrationDate))
	}
	assert.Equal([]string{"a@b.com"}, f.notifier.registrations)
	assert.Equal([]sentMail{{"a@b.com", "a", "483920"}}, f.mailer.sent)

	user, created, err := f.svc.EnsureUser(ctx, "A@B.com", "Other")
	assert.Nil(err)
	assert.False(created)
	assert.Equal("a", user.Name)
	assert.Len(f.notifier.registrations, 1)
}

func TestSendFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, fileRepo(t), Config{})
	f.mailer.err = errors.New("smtp down")

	_, err := f.svc.IssueCode(ctx, "test@x.com", "", "")
	assert.NotNil(err)
	assert.Empty(f.mailer.sent)
}

func TestMarkVerified(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := fileRepo(t)
	f := newFixture(t, repo, Config{})

	require.Nil(t, repo.CreateUser(ctx, model.NewUser("dup@x.com", "one", start)))
	require.Nil(t, repo.CreateUser(ctx, model.NewUser("DUP@x.com", "two", start)))
	require.Nil(t, f.svc.SaveCode(ctx, "dup@x.com", "483920", ""))

	n, err := f.svc.MarkVerified(ctx, "dup@x.com")
	assert.Nil(err)
	assert.Equal(2, n)
	assert.True(verified(t, repo, "dup@x.com"))
	assert.ErrorIs(f.svc.VerifyCode(ctx, "dup@x.com", "483920"), model.ErrorNoActiveCode)

	n, err = f.svc.MarkVerified(ctx, "dup@x.com")
	assert.Nil(err)
	assert.Equal(2, n)

	n, err = f.svc.MarkVerified(ctx, "fresh@x.com")
	assert.Nil(err, "unknown users are provisioned")
	assert.Equal(1, n)
	assert.True(verified(t, repo, "fresh@x.com"))
}

func TestRegister(t *testing.T) {
	for name, open := range repos() {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			f := newFixture(t, open(t), Config{})

			user, err := f.svc.Register(ctx, &model.RegisterUserParams{Email: "Maria@x.com", ReferredBy: "ref-1"})
			require.Nil(t, err)
			assert.Equal("maria@x.com", user.Email)
			assert.Equal("maria", user.Name)
			assert.False(user.Verified)
			if assert.NotNil(user.ReferredBy) {
				assert.Equal("ref-1", *user.ReferredBy)
			}
			assert.Len(f.notifier.registrations, 1)

			require.Nil(t, f.svc.SaveCode(ctx, "maria@x.com", "483920", ""))

			user, err = f.svc.Register(ctx, &model.RegisterUserParams{Email: "maria@x.com", Name: "María", Verified: true})
			require.Nil(t, err)
			assert.Equal("María", user.Name)
			assert.True(user.Verified)
			assert.Len(f.notifier.registrations, 1, "updates are not registrations")
			assert.ErrorIs(f.svc.VerifyCode(ctx, "maria@x.com", "483920"), model.ErrorNoActiveCode)

			user, err = f.svc.Register(ctx, &model.RegisterUserParams{Email: "maria@x.com"})
			require.Nil(t, err)
			assert.Equal("María", user.Name)
			assert.True(user.Verified)
		})
	}
}
