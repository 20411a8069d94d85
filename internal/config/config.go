package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	DBDSN         string
	JWTIssuer     string
	JWTSecret     string
	JWTTTL        time.Duration
	InternalToken string
	WebSocketOrigin string

	OracleURL     string
	OracleTimeout time.Duration
	QuoteTTL      time.Duration

	// Empty disables the in-process ticker; an external scheduler is then the
	// only thing driving margin sweeps.
	MarginSweepInterval time.Duration
	MarginGracePeriod   time.Duration

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	LogLevel string
}

func Load() (Config, error) {
	// Best effort; real deployments set the environment directly.
	_ = godotenv.Load()

	var c Config
	var missing []string

	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		missing = append(missing, "JWT_ISSUER")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	jwtTTL := os.Getenv("JWT_TTL")
	if jwtTTL == "" {
		missing = append(missing, "JWT_TTL")
	} else {
		d, err := time.ParseDuration(jwtTTL)
		if err != nil {
			return c, err
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		c.WebSocketOrigin = "*"
	}

	c.OracleURL = os.Getenv("ORACLE_URL")
	if c.OracleURL == "" {
		missing = append(missing, "ORACLE_URL")
	}
	var err error
	if c.OracleTimeout, err = durationEnv("ORACLE_TIMEOUT", 3*time.Second); err != nil {
		return c, err
	}
	if c.QuoteTTL, err = durationEnv("QUOTE_TTL", 5*time.Second); err != nil {
		return c, err
	}
	if c.MarginSweepInterval, err = durationEnv("MARGIN_SWEEP_INTERVAL", 0); err != nil {
		return c, err
	}
	if c.MarginGracePeriod, err = durationEnv("MARGIN_GRACE_PERIOD", 30*time.Minute); err != nil {
		return c, err
	}

	c.SMTPHost = os.Getenv("SMTP_HOST")
	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return c, errors.New("invalid SMTP_PORT")
		}
		c.SMTPPort = p
	}
	c.SMTPUser = os.Getenv("SMTP_USER")
	c.SMTPPass = os.Getenv("SMTP_PASS")
	c.SMTPFrom = os.Getenv("SMTP_FROM")

	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return d, nil
}
