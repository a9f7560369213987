package inbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// ErrReadOnly is returned when cleanup is attempted on an mbox file.
var ErrReadOnly = errors.New("mbox transport is read-only")

// MboxTransport serves messages from an mbox file, for checking an exported
// mailbox offline. Ids are 1-based positions in the file.
type MboxTransport struct {
	path      string
	messages  [][]byte
	connected bool
}

func NewMboxTransport(path string) *MboxTransport {
	return &MboxTransport{path: path}
}

// MboxDialer returns a Dialer reading path on every Connect.
func MboxDialer(path string) Dialer {
	return func() Transport { return NewMboxTransport(path) }
}

// Connect reads the whole file. Messages that cannot be read are dropped but
// keep their position so ids stay stable.
func (t *MboxTransport) Connect(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open mbox: %w", err)
	}
	defer f.Close()

	messages, err := readMbox(ctx, f)
	if err != nil {
		return err
	}
	t.messages = messages
	t.connected = true
	return nil
}

func readMbox(ctx context.Context, r io.Reader) ([][]byte, error) {
	var messages [][]byte
	reader := mbox.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mr, err := reader.NextMessage()
		if err == io.EOF {
			return messages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mbox: %w", err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			raw = nil
		}
		messages = append(messages, raw)
	}
}

// Search returns messages dated on or after since's day. Messages without
// a parseable Date header are always included.
func (t *MboxTransport) Search(since time.Time) ([]uint32, error) {
	if !t.connected {
		return nil, ErrNotConnected
	}
	var ids []uint32
	for i, raw := range t.messages {
		if raw == nil {
			continue
		}
		if d, ok := headerDate(raw); ok && d.Before(since) {
			continue
		}
		ids = append(ids, uint32(i+1))
	}
	return ids, nil
}

func headerDate(raw []byte) (time.Time, bool) {
	// Unknown-charset errors still yield a usable entity.
	entity, _ := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return time.Time{}, false
	}
	h := mail.Header{Header: entity.Header}
	d, err := h.Date()
	if err != nil || d.IsZero() {
		return time.Time{}, false
	}
	return d, true
}

func (t *MboxTransport) Fetch(uid uint32) ([]byte, error) {
	if !t.connected {
		return nil, ErrNotConnected
	}
	if uid == 0 || int(uid) > len(t.messages) || t.messages[uid-1] == nil {
		return nil, fmt.Errorf("no message %d in %s", uid, t.path)
	}
	return t.messages[uid-1], nil
}

func (t *MboxTransport) Discard(uid uint32) error { return ErrReadOnly }

func (t *MboxTransport) Expunge() error { return nil }

func (t *MboxTransport) Disconnect() error {
	t.messages = nil
	t.connected = false
	return nil
}
