// Package config loads the runtime configuration for a mailbox sync run from
// the process environment and a parameter store.
package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrConfiguration is returned when required configuration is missing or invalid.
var ErrConfiguration = errors.New("configuration error")

// Parameter names, relative to the parameter prefix.
const (
	ParamMailHost     = "mail/host"
	ParamMailPort     = "mail/port"
	ParamMailTLS      = "mail/tls"
	ParamMailUser     = "mail/user"
	ParamMailPassword = "mail/password"
	ParamDBHost       = "db/host"
	ParamDBPort       = "db/port"
	ParamDBUser       = "db/user"
	ParamDBPassword   = "db/password"
	ParamDBName       = "db/name"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultParameterPrefix   = "/inbound-sync/"
	DefaultMailbox           = "INBOX"
	DefaultTrashFolder       = "Trash"
	DefaultUploadConcurrency = 4
	DefaultErrorPolicy       = "abort"
	DefaultStoredProcedure   = "inbound_email_save"
	DefaultLeaseTTL          = 15 * time.Minute
	DefaultDBPort            = 5432
)

// MailConfig holds the mail server connection settings.
type MailConfig struct {
	Host     string
	Port     int
	TLS      bool
	User     string
	Password string
}

// DBConfig holds the relational store connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Config is the complete configuration of one sync run.
type Config struct {
	Bucket              string
	Mailbox             string
	TrashFolder         string
	UploadConcurrency   int
	ErrorPolicy         string
	StoredProcedure     string
	RedisAddr           string
	LeaseTTL            time.Duration
	BlobCleanupQueueURL string
	PushgatewayURL      string

	Mail MailConfig
	DB   DBConfig
}

// Load builds a Config. Environment values are read first so that a missing
// bucket fails before any parameter lookup happens.
func Load(ctx context.Context, store ParameterStore, getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Bucket:              strings.TrimSpace(getenv("BUCKET_NAME")),
		Mailbox:             envOr(getenv, "MAILBOX", DefaultMailbox),
		TrashFolder:         envOr(getenv, "TRASH_FOLDER", DefaultTrashFolder),
		ErrorPolicy:         envOr(getenv, "ON_MESSAGE_ERROR", DefaultErrorPolicy),
		StoredProcedure:     envOr(getenv, "STORED_PROCEDURE", DefaultStoredProcedure),
		RedisAddr:           getenv("REDIS_ADDR"),
		BlobCleanupQueueURL: getenv("BLOB_CLEANUP_QUEUE_URL"),
		PushgatewayURL:      getenv("PUSHGATEWAY_URL"),
		UploadConcurrency:   DefaultUploadConcurrency,
		LeaseTTL:            DefaultLeaseTTL,
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: BUCKET_NAME is not set", ErrConfiguration)
	}

	if v := getenv("UPLOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: UPLOAD_CONCURRENCY must be a positive integer, got %q", ErrConfiguration, v)
		}
		cfg.UploadConcurrency = n
	}
	if v := getenv("LEASE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: LEASE_TTL must be a positive duration, got %q", ErrConfiguration, v)
		}
		cfg.LeaseTTL = d
	}

	p := &paramReader{
		ctx:    ctx,
		store:  store,
		prefix: envOr(getenv, "PARAMETER_PREFIX", DefaultParameterPrefix),
	}
	cfg.Mail = MailConfig{
		Host:     p.required(ParamMailHost),
		Port:     p.requiredInt(ParamMailPort),
		TLS:      p.requiredBool(ParamMailTLS),
		User:     p.required(ParamMailUser),
		Password: p.required(ParamMailPassword),
	}
	cfg.DB = DBConfig{
		Host:     p.required(ParamDBHost),
		Port:     p.optionalInt(ParamDBPort, DefaultDBPort),
		User:     p.required(ParamDBUser),
		Password: p.required(ParamDBPassword),
		Name:     p.required(ParamDBName),
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, p.err)
	}

	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

// paramReader reads a series of parameters and keeps the first error.
type paramReader struct {
	ctx    context.Context
	store  ParameterStore
	prefix string
	err    error
}

func (p *paramReader) name(param string) string {
	return strings.TrimSuffix(p.prefix, "/") + "/" + param
}

func (p *paramReader) lookup(param string) (string, error) {
	return p.store.Get(p.ctx, p.name(param))
}

func (p *paramReader) required(param string) string {
	if p.err != nil {
		return ""
	}
	v, err := p.lookup(param)
	if err != nil {
		p.err = err
		return ""
	}
	return strings.TrimSpace(v)
}

func (p *paramReader) requiredInt(param string) int {
	v := p.required(param)
	if p.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("parameter %s: invalid integer %q", p.name(param), v)
		return 0
	}
	return n
}

func (p *paramReader) requiredBool(param string) bool {
	v := p.required(param)
	if p.err != nil {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.err = fmt.Errorf("parameter %s: invalid boolean %q", p.name(param), v)
		return false
	}
	return b
}

func (p *paramReader) optionalInt(param string, fallback int) int {
	if p.err != nil {
		return fallback
	}
	v, err := p.lookup(param)
	if errors.Is(err, ErrParameterNotFound) {
		return fallback
	}
	if err != nil {
		p.err = err
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.err = fmt.Errorf("parameter %s: invalid integer %q", p.name(param), v)
		return fallback
	}
	return n
}
