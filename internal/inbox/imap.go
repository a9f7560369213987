package inbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/metawebart/formwatch/internal/config"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 60 * time.Second
)

// gmailLabelsItem is Gmail's IMAP extension for editing labels. Adding the
// \Trash label moves the message to the Trash folder.
const gmailLabelsItem imap.StoreItem = "+X-GM-LABELS"

// IMAPTransport implements Transport over a TLS IMAP connection.
type IMAPTransport struct {
	config config.InboxConfig
	client *client.Client

	pendingExpunge bool
}

// NewIMAPTransport creates a transport for cfg. It does not connect.
func NewIMAPTransport(cfg config.InboxConfig) *IMAPTransport {
	return &IMAPTransport{config: cfg}
}

// IMAPDialer returns a Dialer producing IMAP transports for cfg.
func IMAPDialer(cfg config.InboxConfig) Dialer {
	return func() Transport { return NewIMAPTransport(cfg) }
}

// Connect establishes the IMAP connection and selects the configured folder.
func (t *IMAPTransport) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", t.config.Server, t.config.Port)
	slog.Debug("connecting to IMAP server", "addr", addr)

	if err := ctx.Err(); err != nil {
		return err
	}

	c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: dialTimeout}, addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	c.Timeout = commandTimeout

	if err := c.Login(t.config.Email, t.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	mbox, err := c.Select(t.config.Folder, false)
	if err != nil {
		c.Logout()
		return fmt.Errorf("failed to select mailbox %s: %w", t.config.Folder, err)
	}

	t.client = c
	slog.Debug("mailbox selected", "folder", t.config.Folder, "messages", mbox.Messages)
	return nil
}

// Disconnect logs out. It is safe to call on an unconnected transport.
func (t *IMAPTransport) Disconnect() error {
	if t.client == nil {
		return nil
	}
	err := t.client.Logout()
	t.client = nil
	return err
}

// Search returns the UIDs of messages received since the given date. IMAP
// SINCE ignores the time of day.
func (t *IMAPTransport) Search(since time.Time) ([]uint32, error) {
	if t.client == nil {
		return nil, ErrNotConnected
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	uids, err := t.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	return uids, nil
}

// Fetch downloads one full message without setting \Seen.
func (t *IMAPTransport) Fetch(uid uint32) ([]byte, error) {
	if t.client == nil {
		return nil, ErrNotConnected
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- t.client.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	var readErr error
	for msg := range messages {
		if raw != nil || msg == nil {
			continue
		}
		if r := msg.GetBody(section); r != nil {
			raw, readErr = io.ReadAll(r)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read message %d: %w", uid, readErr)
	}
	if raw == nil {
		return nil, fmt.Errorf("message %d has no body", uid)
	}
	return raw, nil
}

// Discard applies the configured cleanup mode to one message.
func (t *IMAPTransport) Discard(uid uint32) error {
	if t.client == nil {
		return ErrNotConnected
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	switch t.config.CleanupMode {
	case config.CleanupMove:
		return t.moveToFolder(seqSet, t.config.ArchiveFolder)
	case config.CleanupDelete:
		return t.markDeleted(seqSet)
	default:
		labels := []interface{}{"\\Trash"}
		if err := t.client.UidStore(seqSet, gmailLabelsItem, labels, nil); err != nil {
			return fmt.Errorf("failed to label message %d as trash: %w", uid, err)
		}
		return nil
	}
}

// Expunge permanently removes messages flagged \Deleted in this session.
func (t *IMAPTransport) Expunge() error {
	if t.client == nil {
		return ErrNotConnected
	}
	if !t.pendingExpunge {
		return nil
	}
	if err := t.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge deleted emails: %w", err)
	}
	t.pendingExpunge = false
	return nil
}

// moveToFolder tries MOVE (RFC 6851) first, then COPY plus \Deleted.
func (t *IMAPTransport) moveToFolder(seqSet *imap.SeqSet, folder string) error {
	err := t.client.UidMove(seqSet, folder)
	if err == nil {
		return nil
	}
	slog.Debug("MOVE not supported, falling back to COPY+DELETE", "error", err)

	if err := t.client.UidCopy(seqSet, folder); err != nil {
		return fmt.Errorf("failed to copy email to '%s': %w", folder, err)
	}
	return t.markDeleted(seqSet)
}

func (t *IMAPTransport) markDeleted(seqSet *imap.SeqSet) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := t.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark email as deleted: %w", err)
	}
	t.pendingExpunge = true
	return nil
}
