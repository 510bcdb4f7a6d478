package ercom

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// DSNConfig locates the ERCOM MySQL database.
type DSNConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	// ConnectWait bounds the total time spent retrying the initial connect.
	ConnectWait time.Duration
}

// DSN renders the go-sql-driver connection string.
func (c DSNConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	mc.DBName = c.Name
	mc.ParseTime = true
	mc.Timeout = 10 * time.Second
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Open connects to ERCOM, retrying with exponential backoff until
// ConnectWait elapses.
func Open(ctx context.Context, cfg DSNConfig, logger zerolog.Logger) (*sqlx.DB, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 250 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	eb.MaxElapsedTime = cfg.ConnectWait
	if eb.MaxElapsedTime <= 0 {
		eb.MaxElapsedTime = 30 * time.Second
	}

	var db *sqlx.DB
	connect := func() error {
		conn, err := sqlx.ConnectContext(ctx, "mysql", cfg.DSN())
		if err != nil {
			return err
		}
		db = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", next).Str("host", cfg.Host).Msg("ercom_connect_retry")
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(eb, ctx), notify); err != nil {
		return nil, fmt.Errorf("ercom: connect %s/%s: %w", cfg.Host, cfg.Name, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	logger.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("ercom_connected")
	return db, nil
}
