// Package conn opens pooled database connections.
package conn

import (
	"fmt"
	"net/url"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Postgres describes one PostgreSQL endpoint. DSN, when set, wins over the
// discrete fields.
type Postgres struct {
	DSN      string            `json:"dsn"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	User     string            `json:"user"`
	Password string            `json:"password"`
	Database string            `json:"database"`
	SSLMode  string            `json:"ssl_mode"`
	Params   map[string]string `json:"params"`

	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// Client wraps a gorm connection pool.
type Client struct {
	cfg Postgres
	db  *gorm.DB
}

// OpenPostgres connects and applies the pool limits.
func OpenPostgres(cfg Postgres) (*Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.ConnString()), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open postgres %s", cfg.redacted())
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Client{cfg: cfg, db: db}, nil
}

func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ConnString renders the URL form of the endpoint.
func (cfg Postgres) ConnString() string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return cfg.url(true).String()
}

func (cfg Postgres) redacted() string {
	if cfg.DSN != "" {
		if u, err := url.Parse(cfg.DSN); err == nil {
			return u.Redacted()
		}
		return "<dsn>"
	}
	return cfg.url(false).String()
}

func (cfg Postgres) url(withPassword bool) *url.URL {
	host := cfg.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	switch {
	case cfg.User != "" && cfg.Password != "" && withPassword:
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}

	query := url.Values{}
	for k, v := range cfg.Params {
		if k != "" {
			query.Set(k, v)
		}
	}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()
	return u
}
