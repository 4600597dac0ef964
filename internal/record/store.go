package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/config"
)

var (
	// ErrDBUnreachable is returned when no connection could be opened.
	ErrDBUnreachable = errors.New("database unreachable")
	// ErrPersistence is returned when the stored procedure call fails.
	ErrPersistence = errors.New("persistence failed")

	errEncode = errors.New("encode record")
)

// Conn abstracts the pgx connection for dependency inversion.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
}

// Store persists records through one stored procedure.
type Store struct {
	conn Conn
	call string
}

// NewStore creates a Store calling procedure on conn.
func NewStore(conn Conn, procedure string) *Store {
	return &Store{
		conn: conn,
		call: fmt.Sprintf("CALL %s($1::jsonb)", pgx.Identifier{procedure}.Sanitize()),
	}
}

// Connect opens one connection to the database described by cfg.
func Connect(ctx context.Context, cfg config.DBConfig, procedure string) (*Store, error) {
	conn, err := pgx.Connect(ctx, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBUnreachable, err)
	}
	return NewStore(conn, procedure), nil
}

// DSN builds a postgres connection URL from cfg.
func DSN(cfg config.DBConfig) string {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Name,
	}
	return u.String()
}

// Persist writes rec with exactly one stored procedure call.
func (s *Store) Persist(ctx context.Context, rec *EmailRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", ErrPersistence, errEncode, err)
	}
	if _, err := s.conn.Exec(ctx, s.call, string(payload)); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// NotWritten reports whether a Persist error means the record was certainly
// not stored: the call never reached the server, or the server rejected it.
// Any other failure may have committed.
func NotWritten(err error) bool {
	if errors.Is(err, errEncode) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// Close ends the connection.
func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
