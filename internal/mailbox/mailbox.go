// Package mailbox reads from and cleans up the mailbox being synchronized.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

var (
	// ErrMailboxUnavailable is returned when the mailbox cannot be locked,
	// reached or read.
	ErrMailboxUnavailable = errors.New("mailbox unavailable")
	// ErrFinalize is returned when processed messages could not be cleaned up.
	ErrFinalize = errors.New("mailbox finalize failed")
)

// RawMessage is one fetched message, undecoded.
type RawMessage struct {
	UID    imap.UID
	Source []byte
}

// Mutator is the set of mailbox writes performed after processing.
type Mutator interface {
	AddFlags(ctx context.Context, uids []imap.UID, flags ...imap.Flag) error
	Move(ctx context.Context, uids []imap.UID, dest string) error
	Delete(ctx context.Context, uids []imap.UID) error
}

// Finalize marks uids seen, moves them to trash and deletes them, in that
// order. It touches no other message and does nothing when uids is empty.
func Finalize(ctx context.Context, m Mutator, uids []imap.UID, trash string) error {
	if len(uids) == 0 {
		return nil
	}
	if err := m.AddFlags(ctx, uids, imap.FlagSeen); err != nil {
		return fmt.Errorf("%w: flag seen: %v", ErrFinalize, err)
	}
	if err := m.Move(ctx, uids, trash); err != nil {
		return fmt.Errorf("%w: move to %s: %v", ErrFinalize, trash, err)
	}
	if err := m.Delete(ctx, uids); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrFinalize, err)
	}
	return nil
}
