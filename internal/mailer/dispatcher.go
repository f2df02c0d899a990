package mailer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"uk.co.dudmesh.cambio/internal/cache"
	"uk.co.dudmesh.cambio/internal/model"
)

const (
	DuplicateWindow = 5 * time.Minute
	MaxJitter       = 500 * time.Millisecond

	subjectVerification = "Tu código de verificación"
)

var emailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cambio",
	Name:      "verification_emails_total",
	Help:      "Verification emails by outcome.",
}, []string{"outcome"})

type Notifier interface {
	System(title, message, email string) bool
}

type Config struct {
	SiteName string
	LogoURL  string
}

// Dispatcher sends verification emails and suppresses repeats of the same
// (address, code) pair for DuplicateWindow.
type Dispatcher struct {
	mu        sync.Mutex
	config    Config
	sender    Sender
	sent      cache.Store
	templates *Templates
	notifier  Notifier
	jitter    func() time.Duration
}

func NewDispatcher(config Config, sender Sender, sent cache.Store, templates *Templates, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		config:    config,
		sender:    sender,
		sent:      sent,
		templates: templates,
		notifier:  notifier,
		jitter: func() time.Duration {
			return rand.N(MaxJitter + 1)
		},
	}
}

// WithJitter replaces the random pre-send delay.
func (d *Dispatcher) WithJitter(jitter func() time.Duration) *Dispatcher {
	d.jitter = jitter
	return d
}

type sendOptions struct {
	customMessage string
	adminNotice   bool
}

type SendOption func(*sendOptions)

func WithCustomMessage(message string) SendOption {
	return func(o *sendOptions) { o.customMessage = message }
}

// AsAdminNotice marks the email as an internal notice; no audit
// notification is recorded for it.
func AsAdminNotice() SendOption {
	return func(o *sendOptions) { o.adminNotice = true }
}

func (d *Dispatcher) SendVerificationEmail(ctx context.Context, to, name, code string, opts ...SendOption) error {
	options := &sendOptions{}
	for _, opt := range opts {
		opt(options)
	}

	key := duplicateKey(to, code)
	claimed, err := d.claim(ctx, key)
	if err != nil {
		return err
	}
	if !claimed {
		log.Infof("mailer: code already sent to %s, skipping duplicate", to)
		emailsTotal.WithLabelValues("suppressed").Inc()
		return nil
	}

	if err := d.wait(ctx); err != nil {
		d.release(ctx, key)
		return err
	}

	if err := d.send(ctx, to, name, code, options); err != nil {
		d.release(ctx, key)
		emailsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: %w", model.ErrorSendFailed, err)
	}
	emailsTotal.WithLabelValues("sent").Inc()

	if !options.adminNotice && d.notifier != nil {
		d.notifier.System("Código de verificación enviado",
			fmt.Sprintf("Se envió un código de verificación a %s.", to), to)
	}
	return nil
}

// claim records the (address, code) pair before sending so that a racing
// duplicate sees it. It reports false when the pair was already claimed.
func (d *Dispatcher) claim(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, found, err := d.sent.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking sent emails: %w", err)
	}
	if found {
		return false, nil
	}
	if err := d.sent.Set(ctx, key, []byte{1}, DuplicateWindow); err != nil {
		return false, fmt.Errorf("recording sent email: %w", err)
	}
	return true, nil
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if err := d.sent.Del(context.WithoutCancel(ctx), key); err != nil {
		log.Warnf("mailer: clearing duplicate marker: %+v", err)
	}
}

func (d *Dispatcher) wait(ctx context.Context) error {
	delay := d.jitter()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, to, name, code string, options *sendOptions) error {
	if name == "" {
		name = model.NameFromEmail(to)
	}
	html, err := d.templates.RenderVerification(VerificationData{
		SiteName:      d.config.SiteName,
		LogoURL:       d.config.LogoURL,
		Name:          name,
		Code:          code,
		CustomMessage: options.customMessage,
		ValidMinutes:  int(model.VerificationCodeTTL / time.Minute),
	})
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Hola %s,\n\nTu código de verificación es: %s\nEs válido durante %d minutos.\n",
		name, code, int(model.VerificationCodeTTL/time.Minute))
	if options.customMessage != "" {
		text = options.customMessage + "\n\n" + text
	}
	return d.sender.Send(ctx, Message{
		To:      to,
		Subject: subjectVerification,
		Text:    text,
		HTML:    html,
	})
}

func duplicateKey(to, code string) string {
	sum := xxhash.Sum64([]byte(model.NormalizeEmail(to) + ":" + code))
	return "mail:sent:" + strconv.FormatUint(sum, 16)
}
