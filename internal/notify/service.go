package notify

import (
	"context"
	"encoding/json"
	"time"

	"lv-cfd/internal/model"
	"lv-cfd/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const deliveryTimeout = 8 * time.Second

// Service fans a notification out to persistence, live websocket clients, and
// email. Everything runs off the caller's goroutine: a slow or failing channel
// can never delay or roll back the operation that produced the notification.
type Service struct {
	pool  *pgxpool.Pool
	hub   *Hub
	email *EmailSender
	log   *logrus.Entry
}

func NewService(pool *pgxpool.Pool, hub *Hub, email *EmailSender, log *logrus.Entry) *Service {
	return &Service{pool: pool, hub: hub, email: email, log: log}
}

func (s *Service) Notify(userID string, kind types.NotificationKind, title, message string, data map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		s.deliver(ctx, userID, kind, title, message, data)
	}()
}

func (s *Service) deliver(ctx context.Context, userID string, kind types.NotificationKind, title, message string, data map[string]any) {
	n := model.Notification{
		UserID:    userID,
		Kind:      kind,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, kind, title, message, data, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, userID, string(kind), title, message, payload, n.CreatedAt).Scan(&n.ID)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "kind": kind}).Warn("notification insert failed")
	}

	s.hub.Push(userID, n)

	if s.email.Enabled() && emailWorthy(kind) {
		s.sendEmail(ctx, userID, title, message)
	}
}

// emailWorthy limits email to the notifications a user must not miss.
func emailWorthy(kind types.NotificationKind) bool {
	switch kind {
	case types.NotificationMarginCritical, types.NotificationMarginLiquidated:
		return true
	default:
		return false
	}
}

func (s *Service) sendEmail(ctx context.Context, userID, subject, body string) {
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil || email == "" {
		return
	}
	if err := s.email.Send(email, subject, body); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("notification email failed")
	}
}

// List returns the user's most recent notifications.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, title, message, data, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var kind string
		var payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Message, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = types.NotificationKind(kind)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &n.Data)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
