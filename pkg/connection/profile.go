package connection

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ruslano69/whbridge/pkg/errs"
	"github.com/ruslano69/whbridge/pkg/warehouse"
)

// AuthMode selects which secret a profile carries.
type AuthMode string

const (
	AuthPassword AuthMode = "password"
	AuthToken    AuthMode = "token"
)

// DefaultDriver is used when a profile names none.
const DefaultDriver = "clickhouse"

// Profile holds the credentials and target of one warehouse session.
type Profile struct {
	Driver       string        `json:"driver,omitempty" yaml:"driver"`
	Host         string        `json:"host" yaml:"host"`
	Port         string        `json:"port" yaml:"port"`
	Database     string        `json:"database" yaml:"database"`
	Username     string        `json:"username,omitempty" yaml:"username"`
	AuthMode     AuthMode      `json:"auth_mode,omitempty" yaml:"auth_mode"`
	Password     string        `json:"password,omitempty" yaml:"password"`
	Token        string        `json:"token,omitempty" yaml:"token"`
	Secure       bool          `json:"secure,omitempty" yaml:"secure"`
	DialTimeout  time.Duration `json:"-" yaml:"dial_timeout"`
	MaxOpenConns int           `json:"-" yaml:"max_open_conns"`
}

// ProfileError is a local validation failure, raised before any network contact.
type ProfileError struct {
	Field  string
	Reason string
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("invalid profile: %s: %s", e.Field, e.Reason)
}

func (e *ProfileError) Kind() errs.Kind { return errs.KindInvalidProfile }

// withDefaults fills driver and auth mode.
func (p Profile) withDefaults() Profile {
	if p.Driver == "" {
		p.Driver = DefaultDriver
	}
	if p.AuthMode == "" {
		if p.Token != "" && p.Password == "" {
			p.AuthMode = AuthToken
		} else {
			p.AuthMode = AuthPassword
		}
	}
	return p
}

// Validate checks the profile shape against reg. Embedded dialects take
// no host or port.
func (p Profile) Validate(reg *warehouse.Registry) error {
	p = p.withDefaults()

	d, ok := reg.Lookup(p.Driver)
	if !ok {
		return &ProfileError{Field: "driver", Reason: fmt.Sprintf("unsupported driver %q (available: %v)", p.Driver, reg.Drivers())}
	}
	if !d.Embedded() {
		if p.Host == "" {
			return &ProfileError{Field: "host", Reason: "must not be empty"}
		}
		if p.Port == "" {
			return &ProfileError{Field: "port", Reason: "must not be empty"}
		}
		if n, err := strconv.Atoi(p.Port); err != nil || n < 1 || n > 65535 {
			return &ProfileError{Field: "port", Reason: fmt.Sprintf("%q is not a valid port", p.Port)}
		}
	}
	if p.Database == "" {
		return &ProfileError{Field: "database", Reason: "must not be empty"}
	}

	switch p.AuthMode {
	case AuthPassword:
		if p.Token != "" {
			return &ProfileError{Field: "token", Reason: "must be empty in password mode"}
		}
	case AuthToken:
		if p.Token == "" {
			return &ProfileError{Field: "token", Reason: "must not be empty in token mode"}
		}
		if p.Password != "" {
			return &ProfileError{Field: "password", Reason: "must be empty in token mode"}
		}
	default:
		return &ProfileError{Field: "auth_mode", Reason: fmt.Sprintf("unknown mode %q", p.AuthMode)}
	}
	return nil
}

// WarehouseConfig converts a validated profile.
func (p Profile) WarehouseConfig() warehouse.Config {
	p = p.withDefaults()
	port, _ := strconv.Atoi(p.Port)
	cfg := warehouse.Config{
		Driver:       p.Driver,
		Host:         p.Host,
		Port:         port,
		Database:     p.Database,
		Username:     p.Username,
		Secure:       p.Secure,
		DialTimeout:  p.DialTimeout,
		MaxOpenConns: p.MaxOpenConns,
	}
	if p.AuthMode == AuthToken {
		cfg.Token = p.Token
	} else {
		cfg.Password = p.Password
	}
	return cfg
}

// Redacted returns a copy safe to log or return to callers.
func (p Profile) Redacted() Profile {
	p = p.withDefaults()
	if p.Password != "" {
		p.Password = "***"
	}
	if p.Token != "" {
		p.Token = "***"
	}
	return p
}
