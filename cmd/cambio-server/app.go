package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"

	"uk.co.dudmesh.cambio/internal/auth"
	"uk.co.dudmesh.cambio/internal/boot"
	"uk.co.dudmesh.cambio/internal/cache"
	"uk.co.dudmesh.cambio/internal/guard"
	"uk.co.dudmesh.cambio/internal/handlers"
	"uk.co.dudmesh.cambio/internal/janitor"
	"uk.co.dudmesh.cambio/internal/mailer"
	"uk.co.dudmesh.cambio/internal/notify"
	"uk.co.dudmesh.cambio/internal/service/rates"
	"uk.co.dudmesh.cambio/internal/service/verification"
	"uk.co.dudmesh.cambio/internal/store"
)

type Store interface {
	verification.Repository
	rates.Repository
	notify.Sink
	handlers.NotificationLister
	janitor.Purger
	Close() error
}

type app struct {
	store         Store
	cache         cache.Store
	closeCache    func() error
	templates     *mailer.Templates
	publisher     *notify.Publisher
	authenticator *auth.Authenticator
	janitor       *janitor.Janitor
	services      *handlers.Services
}

func newApp(ctx context.Context, config *boot.Config) (*app, error) {
	a := &app{closeCache: func() error { return nil }}

	var err error
	if a.store, err = openStore(ctx, config); err != nil {
		return nil, err
	}

	var sweeper janitor.Sweeper
	switch config.Cache.Backend {
	case boot.CacheRedis:
		redis, err := cache.DialRedis(ctx, config.Cache.RedisURL, "cambio:")
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.cache, a.closeCache = redis, redis.Close
	default:
		memory := cache.NewMemory()
		a.cache, sweeper = memory, memory
	}

	if a.templates, err = mailer.NewTemplates(config.Email.TemplateDir); err != nil {
		return nil, err
	}
	if config.IsDevelopment() {
		if err := a.templates.Watch(); err != nil {
			log.Warnf("watching email templates: %+v", err)
		}
	}

	sender, err := newSender(config)
	if err != nil {
		return nil, err
	}

	a.publisher = notify.NewPublisher(a.store, notify.DefaultQueueSize)
	dispatcher := mailer.NewDispatcher(mailer.Config{
		SiteName: config.Email.SiteName,
		LogoURL:  config.Email.LogoURL,
	}, sender, a.cache, a.templates, a.publisher)

	secret := config.Admin.JWTSecret
	if secret == "" {
		if config.IsProduction() {
			return nil, fmt.Errorf("ADMIN_JWT_SECRET is required in production")
		}
		log.Warnf("ADMIN_JWT_SECRET not set, admin tokens will not survive a restart")
		secret = cuid2.Generate() + cuid2.Generate()
	}
	if config.Admin.PasswordHash == "" {
		log.Warnf("ADMIN_PASSWORD_HASH not set, admin login is disabled")
	}
	if a.authenticator, err = auth.New(config.Admin.PasswordHash, secret, config.Admin.TokenTTL); err != nil {
		return nil, err
	}

	if a.janitor, err = janitor.New(config.Verification.CodePurgeSchedule, a.store, sweeper, nil); err != nil {
		return nil, err
	}

	a.services = &handlers.Services{
		Verification: verification.New(a.store, a.cache, dispatcher, a.publisher, verification.Config{
			LimitAttempts: config.LimitAttempts(),
			MaxAttempts:   config.Verification.MaxAttempts,
		}),
		Guard:         guard.New(a.cache),
		Rates:         rates.New(a.store, a.publisher, nil),
		Notifications: a.store,
		Auth:          a.authenticator,
		Options:       handlers.Options{ExposeTestCode: config.Verification.ExposeTestCode},
	}
	return a, nil
}

func openStore(ctx context.Context, config *boot.Config) (Store, error) {
	if config.Store.Backend == boot.StoreSQL {
		s, err := store.NewSQLStore(ctx, config.Store.Driver, config.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		log.Infof("using %s database", config.Store.Driver)
		return s, nil
	}
	s, err := store.NewFileStore(config.DataDir)
	if err != nil {
		return nil, err
	}
	log.Infof("using file store in %s", filepath.Clean(config.DataDir))
	return s, nil
}

func newSender(config *boot.Config) (mailer.Sender, error) {
	if config.SMTP.Disable {
		log.Warnf("SMTP disabled, verification emails will only be logged")
		return mailer.LogSender{}, nil
	}
	sender, err := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     config.SMTP.Host,
		Port:     config.SMTP.Port,
		User:     config.SMTP.User,
		Password: config.SMTP.Password,
		From:     config.SMTP.From,
		FromName: config.SMTP.FromName,
	})
	if err != nil {
		if config.IsDevelopment() {
			log.Warnf("SMTP not configured, verification emails will only be logged")
			return mailer.LogSender{}, nil
		}
		return nil, fmt.Errorf("configuring smtp: %w", err)
	}
	return sender, nil
}

// Close stops background work and flushes queued notifications before the
// store goes away.
func (a *app) Close(ctx context.Context) {
	a.janitor.Stop(ctx)
	a.publisher.Close()
	a.templates.Close()
	if err := a.closeCache(); err != nil {
		log.Warnf("closing cache: %+v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Warnf("closing store: %+v", err)
	}
}
