package model

import (
	"strconv"
	"strings"
	"time"
)

type UserID string // creation time in unix millis plus a random suffix e.g. 1718049600123-4fJ9kQ

type User struct {
	ID                  UserID     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	Name                string     `db:"name" json:"name"`
	RegistrationDate    time.Time  `db:"registration_date" json:"registrationDate"`
	Verified            bool       `db:"verified" json:"verified"`
	VerificationCode    *string    `db:"verification_code" json:"verificationCode,omitempty"`
	VerificationExpires *time.Time `db:"verification_expires" json:"verificationExpires,omitempty"`
	ReferredBy          *string    `db:"referred_by" json:"referredBy,omitempty"`
}

type RegisterUserParams struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Verified   bool   `json:"verified"`
	ReferredBy string `json:"referredBy"`
}

// NewUser builds an unverified user registered at now.
func NewUser(email, name string, now time.Time) *User {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		name = NameFromEmail(email)
	}
	return &User{
		ID:               UserIDAt(now),
		Email:            email,
		Name:             name,
		RegistrationDate: now.UTC(),
	}
}

func UserIDAt(t time.Time) UserID {
	return UserID(strconv.FormatInt(t.UnixMilli(), 10) + "-" + CreateID()[:6])
}

// ClearCode drops any pending verification on the record.
func (u *User) ClearCode() {
	u.VerificationCode = nil
	u.VerificationExpires = nil
}

func (u *User) MarkVerified() {
	u.Verified = true
	u.ClearCode()
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NameFromEmail returns the local part of the address, or the whole input if
// it has no @.
func NameFromEmail(email string) string {
	local, _, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found {
		return strings.TrimSpace(email)
	}
	return local
}

func SameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
