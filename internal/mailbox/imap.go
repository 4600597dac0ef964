package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/config"
)

// Leaser guards a mailbox across processes. The returned release func gives
// the lease back.
type Leaser interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// locks holds one mutex per mailbox address within this process.
var locks sync.Map

func processLock(key string) *sync.Mutex {
	mu, _ := locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// IMAPMailbox is a mailbox on an IMAP server. Lock must succeed before any
// other method is used.
type IMAPMailbox struct {
	cfg     config.MailConfig
	name    string
	leaser  Leaser
	logger  *slog.Logger
	options *imapclient.Options

	client    *imapclient.Client
	closeOnce sync.Once
}

// NewIMAPMailbox creates an IMAPMailbox for mailbox name on the server in
// cfg. leaser may be nil.
func NewIMAPMailbox(cfg config.MailConfig, name string, leaser Leaser, logger *slog.Logger) *IMAPMailbox {
	if logger == nil {
		logger = slog.Default()
	}
	options := &imapclient.Options{}
	if cfg.TLS {
		options.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}
	return &IMAPMailbox{
		cfg:     cfg,
		name:    name,
		leaser:  leaser,
		logger:  logger,
		options: options,
	}
}

func (m *IMAPMailbox) address() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// Lock takes the mailbox for this run: the cross-process lease, the process
// mutex, a logged-in connection and the selected mailbox. The returned release
// func logs out and gives everything back. It is safe to call more than once.
func (m *IMAPMailbox) Lock(ctx context.Context) (func(context.Context), error) {
	key := m.cfg.User + "@" + m.address() + "/" + m.name
	mu := processLock(key)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%w: %s is locked by another run", ErrMailboxUnavailable, m.name)
	}

	releaseLease := func(context.Context) error { return nil }
	if m.leaser != nil {
		release, err := m.leaser.Acquire(ctx)
		if err != nil {
			mu.Unlock()
			return nil, fmt.Errorf("%w: lease: %v", ErrMailboxUnavailable, err)
		}
		releaseLease = release
	}

	fail := func(err error) (func(context.Context), error) {
		if rerr := releaseLease(context.WithoutCancel(ctx)); rerr != nil {
			m.logger.WarnContext(ctx, "Failed to release mailbox lease", slog.String("error", rerr.Error()))
		}
		mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrMailboxUnavailable, err)
	}

	if err := m.connect(ctx); err != nil {
		return fail(err)
	}
	if _, err := m.client.Select(m.name, nil).Wait(); err != nil {
		m.closeClient()
		return fail(fmt.Errorf("select %s: %w", m.name, err))
	}

	m.logger.InfoContext(ctx, "Mailbox locked",
		slog.String("address", m.address()),
		slog.String("mailbox", m.name),
		slog.Bool("tls", m.cfg.TLS),
	)

	stopClose := context.AfterFunc(ctx, m.closeClient)

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() {
			stopClose()
			m.Logout(ctx)
			if err := releaseLease(ctx); err != nil {
				m.logger.WarnContext(ctx, "Failed to release mailbox lease", slog.String("error", err.Error()))
			}
			mu.Unlock()
		})
	}, nil
}

func (m *IMAPMailbox) connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		client *imapclient.Client
		err    error
	)
	if m.cfg.TLS {
		client, err = imapclient.DialTLS(m.address(), m.options)
	} else {
		client, err = imapclient.DialInsecure(m.address(), m.options)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", m.address(), err)
	}

	if err := client.Login(m.cfg.User, m.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("imap login failed: %w", err)
	}

	m.client = client
	return nil
}

// Count returns the number of messages in the mailbox.
func (m *IMAPMailbox) Count(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMailboxUnavailable, err)
	}
	data, err := m.client.Status(m.name, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("%w: status %s: %v", ErrMailboxUnavailable, m.name, err)
	}
	if data.NumMessages == nil {
		return 0, nil
	}
	return *data.NumMessages, nil
}

// Messages fetches every message in the mailbox lazily, in sequence order,
// without setting \Seen. Stopping the iteration ends the fetch.
func (m *IMAPMailbox) Messages(ctx context.Context) iter.Seq2[RawMessage, error] {
	return func(yield func(RawMessage, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(RawMessage{}, fmt.Errorf("%w: %v", ErrMailboxUnavailable, err))
			return
		}

		var seqSet imap.SeqSet
		seqSet.AddRange(1, 0)
		bodySection := &imap.FetchItemBodySection{Peek: true}
		cmd := m.client.Fetch(seqSet, &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})

		closed := false
		defer func() {
			if !closed {
				_ = cmd.Close()
			}
		}()

		for {
			if err := ctx.Err(); err != nil {
				yield(RawMessage{}, fmt.Errorf("%w: %v", ErrMailboxUnavailable, err))
				return
			}
			data := cmd.Next()
			if data == nil {
				break
			}
			buf, err := data.Collect()
			if err != nil {
				yield(RawMessage{}, fmt.Errorf("%w: fetch: %v", ErrMailboxUnavailable, err))
				return
			}
			raw := RawMessage{UID: buf.UID, Source: buf.FindBodySection(bodySection)}
			if !yield(raw, nil) {
				return
			}
		}

		closed = true
		if err := cmd.Close(); err != nil {
			yield(RawMessage{}, fmt.Errorf("%w: fetch: %v", ErrMailboxUnavailable, err))
		}
	}
}

// AddFlags adds flags to uids.
func (m *IMAPMailbox) AddFlags(ctx context.Context, uids []imap.UID, flags ...imap.Flag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  flags,
	}, nil).Collect()
	return err
}

// Move moves uids to dest, creating dest first if it does not exist.
func (m *IMAPMailbox) Move(ctx context.Context, uids []imap.UID, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.ensureMailbox(ctx, dest); err != nil {
		return err
	}
	_, err := m.client.Move(imap.UIDSetNum(uids...), dest).Wait()
	return err
}

// Delete marks uids \Deleted and expunges them. Without UIDPLUS the server
// expunges every message marked \Deleted.
func (m *IMAPMailbox) Delete(ctx context.Context, uids []imap.UID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uidSet := imap.UIDSetNum(uids...)
	_, err := m.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Collect()
	if err != nil {
		return err
	}
	if m.client.Caps().Has(imap.CapUIDPlus) {
		_, err = m.client.UIDExpunge(uidSet).Collect()
	} else {
		_, err = m.client.Expunge().Collect()
	}
	return err
}

func (m *IMAPMailbox) ensureMailbox(ctx context.Context, name string) error {
	err := m.client.Create(name, nil).Wait()
	if err == nil {
		m.logger.InfoContext(ctx, "Mailbox created", slog.String("mailbox", name))
		return nil
	}
	var respErr *imap.Error
	if errors.As(err, &respErr) && respErr.Code == imap.ResponseCodeAlreadyExists {
		return nil
	}
	return fmt.Errorf("ensure mailbox %s: %w", name, err)
}

// Logout ends the session and closes the connection.
func (m *IMAPMailbox) Logout(ctx context.Context) {
	if m.client == nil {
		return
	}
	m.closeOnce.Do(func() {
		if err := m.client.Logout().Wait(); err != nil {
			m.logger.WarnContext(ctx, "IMAP logout failed", slog.String("error", err.Error()))
		}
		if err := m.client.Close(); err != nil {
			m.logger.DebugContext(ctx, "IMAP connection closed", slog.String("error", err.Error()))
		}
	})
}

func (m *IMAPMailbox) closeClient() {
	m.closeOnce.Do(func() {
		_ = m.client.Close()
	})
}
