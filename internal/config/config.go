// Package config loads the feedsync TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
	"github.com/bryan-buckman/feedsync/internal/rss"
	"github.com/bryan-buckman/feedsync/internal/server"
)

// Duration reads values such as "10m" or "336h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Server struct {
	Addr string `toml:"addr"`
}

type Database struct {
	// DSN is a SQLite path (optionally sqlite://) or a postgres:// URL.
	DSN string `toml:"dsn"`
}

type Sync struct {
	Interval     Duration `toml:"interval"`
	Retention    Duration `toml:"retention"`
	FetchTimeout Duration `toml:"fetch_timeout"`
	FeedDeadline Duration `toml:"feed_deadline"`
	Retries      int      `toml:"retries"` // 0 disables retrying
	RetryDelay   Duration `toml:"retry_delay"`
	PerHost      int      `toml:"per_host"`
	UserAgent    string   `toml:"user_agent"`
}

type User struct {
	ID       string `toml:"id"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
}

// Config is the top-level configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Database Database `toml:"database"`
	Sync     Sync     `toml:"sync"`
	Users    []User   `toml:"users"`
}

func Default() Config {
	return Config{
		Server:   Server{Addr: ":8080"},
		Database: Database{DSN: "feedsync.db"},
		Sync: Sync{
			Interval:     Duration{rss.DefaultInterval},
			Retention:    Duration{rss.DefaultRetention},
			FetchTimeout: Duration{rss.DefaultTimeout},
			FeedDeadline: Duration{rss.DefaultFeedDeadline},
			Retries:      rss.DefaultRetries,
			RetryDelay:   Duration{rss.DefaultRetryDelay},
			PerHost:      rss.DefaultPerHost,
			UserAgent:    rss.DefaultUserAgent,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects users that cannot log in and non-positive intervals.
func (c Config) Validate() error {
	for i, u := range c.Users {
		if u.ID == "" || u.Email == "" {
			return fmt.Errorf("users[%d]: id and email are required", i)
		}
		if u.Password == "" && u.Token == "" {
			return fmt.Errorf("users[%d]: password or token is required", i)
		}
	}
	dupes := lo.FindDuplicates(lo.Map(c.Users, func(u User, _ int) string { return u.ID }))
	if len(dupes) > 0 {
		return fmt.Errorf("duplicate user ids: %v", dupes)
	}
	if c.Sync.Interval.Duration <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.Retries < 0 {
		return fmt.Errorf("sync.retries must not be negative")
	}
	if c.Sync.Retention.Duration <= 0 {
		return fmt.Errorf("sync.retention must be positive")
	}
	return nil
}

// Fetcher builds the fetcher settings. Default supplies the retry count, so an
// explicit zero here means no retries.
func (c Config) Fetcher() rss.FetcherConfig {
	retries := c.Sync.Retries
	if retries == 0 {
		retries = -1
	}
	return rss.FetcherConfig{
		Retries:      retries,
		RetryDelay:   c.Sync.RetryDelay.Duration,
		Timeout:      c.Sync.FetchTimeout.Duration,
		FeedDeadline: c.Sync.FeedDeadline.Duration,
		PerHost:      c.Sync.PerHost,
		UserAgent:    c.Sync.UserAgent,
	}
}

// Accounts converts the configured users into login accounts.
func (c Config) Accounts() []server.Account {
	return lo.Map(c.Users, func(u User, _ int) server.Account {
		return server.Account{
			User:     model.User{ID: u.ID, Email: u.Email},
			Password: u.Password,
			Token:    u.Token,
		}
	})
}
