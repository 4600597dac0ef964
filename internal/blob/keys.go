package blob

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/message"
)

// FolderKey returns the object folder for a message received by recipient at t:
// inbound/<year>/<month>/<recipient local part>, in UTC, month not padded.
func FolderKey(t time.Time, recipient string) string {
	t = t.UTC()
	return fmt.Sprintf("inbound/%d/%d/%s", t.Year(), int(t.Month()), message.LocalPart(recipient))
}

// EMLFilename derives the stored name of the original message from its
// Message-Id: the local part without its leading '<', plus ".eml".
func EMLFilename(messageID string) (string, error) {
	local, _, _ := strings.Cut(strings.TrimSpace(messageID), "@")
	local = strings.TrimPrefix(local, "<")
	local = strings.ReplaceAll(local, "/", "_")
	if local == "" {
		return "", fmt.Errorf("cannot derive filename from message id %q", messageID)
	}
	return local + ".eml", nil
}

// AttachmentFilename names the index'th attachment of a message published at
// millis. The index keeps names unique when attachments share a name.
func AttachmentFilename(millis int64, index int, original string) string {
	ext := strings.TrimPrefix(path.Ext(original), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%d%d.%s", millis, index, ext)
}
