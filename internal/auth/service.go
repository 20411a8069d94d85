package auth

import (
	"context"
	"errors"
	"time"

	"lv-cfd/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// New paper accounts start funded so users can trade immediately.
var (
	startingBalance    = decimal.NewFromInt(10000)
	defaultMaxLeverage = 100
)

type Service struct {
	pool   *pgxpool.Pool
	issuer string
	secret []byte
	ttl    time.Duration
}

type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	KYCStatus     string `json:"kyc_status"`
	AccountStatus string `json:"account_status"`
}

func NewService(pool *pgxpool.Pool, issuer string, secret []byte, ttl time.Duration) *Service {
	return &Service{pool: pool, issuer: issuer, secret: secret, ttl: ttl}
}

// Register creates the user and seeds their trading account in one
// transaction.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", apperr.Validation("credentials_required", "email and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx, `
		INSERT INTO users (email, kyc_status, account_status)
		VALUES ($1, 'approved', 'active')
		RETURNING id
	`, email).Scan(&userID)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_credentials (user_id, password_hash) VALUES ($1, $2)
	`, userID, string(hash)); err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO trading_accounts (user_id, balance, held_balance, margin_used, max_leverage, updated_at)
		VALUES ($1, $2, 0, 0, $3, $4)
	`, userID, startingBalance, defaultMaxLeverage, time.Now().UTC()); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	var userID, hash string
	err := s.pool.QueryRow(ctx, `
		SELECT u.id, c.password_hash
		FROM users u JOIN user_credentials c ON c.user_id = u.id
		WHERE u.email = $1
	`, email).Scan(&userID, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.Authorization("invalid_credentials", "invalid credentials")
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", apperr.Authorization("invalid_credentials", "invalid credentials")
	}
	return s.signToken(userID)
}

func (s *Service) signToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Issuer != s.issuer {
		return "", errors.New("invalid issuer")
	}
	if claims.Subject == "" {
		return "", errors.New("invalid subject")
	}
	return claims.Subject, nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, kyc_status, account_status FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Email, &u.KYCStatus, &u.AccountStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, apperr.NotFound("user_not_found", "user not found")
		}
		return u, err
	}
	return u, nil
}
