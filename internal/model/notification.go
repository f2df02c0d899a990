package model

import "time"

type NotificationType string

const (
	NotificationRegistration NotificationType = "registration"
	NotificationVerification NotificationType = "verification"
	NotificationSystem       NotificationType = "system"
)

type Notification struct {
	ID        string           `db:"id" json:"id"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Email     string           `db:"email" json:"email"`
	Read      bool             `db:"is_read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

func NewNotification(kind NotificationType, title, message, email string) *Notification {
	return &Notification{
		ID:        CreateID(),
		Type:      kind,
		Title:     title,
		Message:   message,
		Email:     NormalizeEmail(email),
		CreatedAt: time.Now().UTC(),
	}
}
