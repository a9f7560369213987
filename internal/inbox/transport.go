package inbox

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by transport operations issued before Connect.
var ErrNotConnected = errors.New("not connected to IMAP server")

// Transport is the mailbox surface used by the Fetcher and the Janitor.
// Message ids are IMAP UIDs, which survive reconnects.
type Transport interface {
	// Connect dials, authenticates and selects the monitored folder.
	Connect(ctx context.Context) error
	// Search lists the ids of messages received on or after since's date.
	Search(since time.Time) ([]uint32, error)
	// Fetch returns the full RFC 5322 message.
	Fetch(uid uint32) ([]byte, error)
	// Discard removes one message according to the configured cleanup mode.
	Discard(uid uint32) error
	// Expunge finalizes pending deletions, if the cleanup mode needs it.
	Expunge() error
	Disconnect() error
}

// Dialer creates a fresh, unconnected transport. Every stage dials its own
// connection and releases it before returning.
type Dialer func() Transport
