package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"uk.co.dudmesh.cambio/internal/model"
)

const (
	UsersFile         = "registered-users.json"
	NotificationsFile = "notifications.json"
	RatesFile         = "rates.json"
)

// fileStore keeps everything in flat JSON files under one directory. Each
// mutation rewrites the whole file through a temp file and a rename.
//
// Emails are not unique here: several records may share an address, so
// code and verification updates are applied to every matching record.
type fileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) FindByEmail(_ context.Context, email string) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	var matches []model.User
	for _, u := range users {
		if model.SameEmail(u.Email, email) {
			matches = append(matches, u)
		}
	}
	return matches, nil
}

func (s *fileStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return err
	}
	users = append(users, *user)
	return s.saveUsers(users)
}

func (s *fileStore) UpsertUser(_ context.Context, user *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}

	var first *model.User
	for i := range users {
		u := &users[i]
		if !model.SameEmail(u.Email, user.Email) {
			continue
		}
		if user.Name != "" {
			u.Name = user.Name
		}
		if user.Verified {
			u.MarkVerified()
		}
		if first == nil {
			first = u
		}
	}

	if first == nil {
		created := *user
		if created.Name == "" {
			created.Name = model.NameFromEmail(created.Email)
		}
		users = append(users, created)
		first = &users[len(users)-1]
	}
	stored := *first

	if err := s.saveUsers(users); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *fileStore) MarkVerified(_ context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range users {
		if model.SameEmail(users[i].Email, email) {
			users[i].MarkVerified()
			n++
		}
	}
	if n == 0 {
		return 0, model.ErrorUserNotFound
	}
	return n, s.saveUsers(users)
}

func (s *fileStore) SaveCode(_ context.Context, code model.PendingCode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return 0, err
	}
	expires := code.ExpiresAt.UTC()
	n := 0
	for i := range users {
		if model.SameEmail(users[i].Email, code.Email) {
			c := code.Code
			users[i].VerificationCode = &c
			users[i].VerificationExpires = &expires
			n++
		}
	}
	if n == 0 {
		return 0, model.ErrorUserNotFound
	}
	return n, s.saveUsers(users)
}

func (s *fileStore) GetCode(_ context.Context, email string) (*model.PendingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if !model.SameEmail(u.Email, email) || u.VerificationCode == nil || u.VerificationExpires == nil {
			continue
		}
		return &model.PendingCode{
			Email:     u.Email,
			Code:      *u.VerificationCode,
			ExpiresAt: *u.VerificationExpires,
		}, nil
	}
	return nil, model.ErrorNoActiveCode
}

func (s *fileStore) ClearCode(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return err
	}
	changed := false
	for i := range users {
		if model.SameEmail(users[i].Email, email) && users[i].VerificationCode != nil {
			users[i].ClearCode()
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveUsers(users)
}

func (s *fileStore) PurgeExpiredCodes(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range users {
		exp := users[i].VerificationExpires
		if exp != nil && !now.Before(*exp) {
			users[i].ClearCode()
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, s.saveUsers(users)
}

func (s *fileStore) AppendNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notifications []model.Notification
	if err := s.read(NotificationsFile, &notifications); err != nil {
		return err
	}
	notifications = append(notifications, *n)
	return s.write(NotificationsFile, notifications)
}

func (s *fileStore) ListNotifications(_ context.Context, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notifications []model.Notification
	if err := s.read(NotificationsFile, &notifications); err != nil {
		return nil, err
	}
	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

func (s *fileStore) GetRate(_ context.Context, pair model.RatePair) (*model.Rate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rates := map[model.RatePair]model.Rate{}
	if err := s.read(RatesFile, &rates); err != nil {
		return nil, err
	}
	rate, ok := rates[pair]
	if !ok {
		return nil, model.ErrorRateNotFound
	}
	return &rate, nil
}

func (s *fileStore) PutRate(_ context.Context, rate *model.Rate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rates := map[model.RatePair]model.Rate{}
	if err := s.read(RatesFile, &rates); err != nil {
		return err
	}
	rates[rate.Pair] = *rate
	return s.write(RatesFile, rates)
}

func (s *fileStore) loadUsers() ([]model.User, error) {
	var users []model.User
	if err := s.read(UsersFile, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *fileStore) saveUsers(users []model.User) error {
	if users == nil {
		users = []model.User{}
	}
	return s.write(UsersFile, users)
}

func (s *fileStore) read(name string, out any) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

func (s *fileStore) write(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}
