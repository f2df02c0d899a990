package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"uk.co.dudmesh.cambio/internal/model"
	"uk.co.dudmesh.cambio/internal/store/migrations"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// sqlStore is the hosted relational backend. Emails are unique per row and
// pending codes live in their own table.
type sqlStore struct {
	db *sqlx.DB
}

func NewSQLStore(ctx context.Context, driver, dsn string) (*sqlStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == DriverSQLite {
		// go-sqlite3 serialises writers anyway; one connection keeps
		// in-memory databases alive between calls.
		db.SetMaxOpenConns(1)
	}

	if err := migrate(ctx, db.DB, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &sqlStore{db}, nil
}

func migrate(ctx context.Context, db *sql.DB, driver string) error {
	dialect := "sqlite3"
	if driver == DriverPostgres {
		dialect = "postgres"
	}
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

const selectUsers = `select u.id, u.email, u.name, u.registration_date, u.verified, u.referred_by,
		c.code as verification_code, c.expires_at as verification_expires
	from users u
	left join verification_codes c on c.email = u.email`

func (s *sqlStore) FindByEmail(ctx context.Context, email string) ([]model.User, error) {
	users := []model.User{}
	err := s.db.SelectContext(ctx, &users, s.db.Rebind(selectUsers+` where u.email = ?`), model.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("selecting users: %w", err)
	}
	return users, nil
}

func (s *sqlStore) CreateUser(ctx context.Context, user *model.User) error {
	res, err := s.db.NamedExecContext(ctx, `insert into users
		(id, email, name, registration_date, verified, referred_by)
		values(:id, :email, :name, :registration_date, :verified, :referred_by)`, normalized(user))
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return expectRows(res, 1)
}

func (s *sqlStore) UpsertUser(ctx context.Context, user *model.User) (*model.User, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	u := normalized(user)
	name := u.Name
	if name == "" {
		name = model.NameFromEmail(u.Email)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`insert into users
		(id, email, name, registration_date, verified, referred_by)
		values(?, ?, ?, ?, ?, ?)
		on conflict (email) do update set
			name = case when ? <> '' then ? else users.name end,
			verified = users.verified or excluded.verified`),
		u.ID, u.Email, name, u.RegistrationDate, u.Verified, u.ReferredBy, u.Name, u.Name)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	if user.Verified {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`delete from verification_codes where email = ?`), model.NormalizeEmail(user.Email)); err != nil {
			return nil, fmt.Errorf("clearing verification code: %w", err)
		}
	}

	stored := &model.User{}
	err = tx.GetContext(ctx, stored, tx.Rebind(selectUsers+` where u.email = ?`), model.NormalizeEmail(user.Email))
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing: %w", err)
	}
	return stored, nil
}

func (s *sqlStore) MarkVerified(ctx context.Context, email string) (int, error) {
	email = model.NormalizeEmail(email)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`update users set verified = ? where email = ?`), true, email)
	if err != nil {
		return 0, fmt.Errorf("updating user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return 0, model.ErrorUserNotFound
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`delete from verification_codes where email = ?`), email); err != nil {
		return int(rows), fmt.Errorf("clearing verification code: %w", err)
	}
	return int(rows), nil
}

// SaveCode updates the pending code for the email, inserting a row if none
// exists yet.
func (s *sqlStore) SaveCode(ctx context.Context, code model.PendingCode) (int, error) {
	code.Email = model.NormalizeEmail(code.Email)
	code.ExpiresAt = code.ExpiresAt.UTC()

	res, err := s.db.NamedExecContext(ctx, `update verification_codes
		set code = :code, expires_at = :expires_at, request_id = :request_id
		where email = :email`, code)
	if err != nil {
		return 0, fmt.Errorf("updating verification code: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	} else if rows > 0 {
		return int(rows), nil
	}

	res, err = s.db.NamedExecContext(ctx, `insert into verification_codes
		(email, code, expires_at, request_id)
		values(:email, :code, :expires_at, :request_id)`, code)
	if err != nil {
		return 0, fmt.Errorf("inserting verification code: %w", err)
	}
	if err := expectRows(res, 1); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *sqlStore) GetCode(ctx context.Context, email string) (*model.PendingCode, error) {
	code := &model.PendingCode{}
	err := s.db.GetContext(ctx, code, s.db.Rebind(`select email, code, expires_at, request_id
		from verification_codes where email = ?`), model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorNoActiveCode
		}
		return nil, fmt.Errorf("selecting verification code: %w", err)
	}
	return code, nil
}

func (s *sqlStore) ClearCode(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`delete from verification_codes where email = ?`), model.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("deleting verification code: %w", err)
	}
	return nil
}

func (s *sqlStore) PurgeExpiredCodes(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`delete from verification_codes where expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging verification codes: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *sqlStore) AppendNotification(ctx context.Context, n *model.Notification) error {
	res, err := s.db.NamedExecContext(ctx, `insert into notifications
		(id, type, title, message, email, is_read, created_at)
		values(:id, :type, :title, :message, :email, :is_read, :created_at)`, n)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return expectRows(res, 1)
}

func (s *sqlStore) ListNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	query := `select id, type, title, message, email, is_read, created_at
		from notifications order by created_at desc`
	args := []any{}
	if limit > 0 {
		query += ` limit ?`
		args = append(args, limit)
	}
	notifications := []model.Notification{}
	if err := s.db.SelectContext(ctx, &notifications, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("selecting notifications: %w", err)
	}
	return notifications, nil
}

func (s *sqlStore) GetRate(ctx context.Context, pair model.RatePair) (*model.Rate, error) {
	rate := &model.Rate{}
	err := s.db.GetContext(ctx, rate, s.db.Rebind(`select pair, value, source, updated_at, updated_by
		from rates where pair = ?`), pair)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorRateNotFound
		}
		return nil, fmt.Errorf("selecting rate: %w", err)
	}
	return rate, nil
}

func (s *sqlStore) PutRate(ctx context.Context, rate *model.Rate) error {
	r := *rate
	r.UpdatedAt = r.UpdatedAt.UTC()
	_, err := s.db.NamedExecContext(ctx, `insert into rates
		(pair, value, source, updated_at, updated_by)
		values(:pair, :value, :source, :updated_at, :updated_by)
		on conflict (pair) do update set
			value = excluded.value,
			source = excluded.source,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by`, &r)
	if err != nil {
		return fmt.Errorf("upserting rate: %w", err)
	}
	return nil
}

func normalized(user *model.User) *model.User {
	u := *user
	u.Email = model.NormalizeEmail(u.Email)
	u.RegistrationDate = u.RegistrationDate.UTC()
	return &u
}

func expectRows(res sql.Result, want int64) error {
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows != want {
		return fmt.Errorf("expected %d row to be affected, got %d", want, rows)
	}
	return nil
}
