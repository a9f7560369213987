package inbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

const previewLength = 100

// Message is a normalized mailbox message. Only UID crosses into the Janitor.
type Message struct {
	UID        uint32
	Subject    string
	Body       string
	Date       string    // raw Date header, "unknown" when absent
	ReceivedAt time.Time // zero when Date does not parse
	Preview    string    // lowercased, newline-free prefix of Body
}

// Normalize parses a raw RFC 5322 message. The subject is decoded from its
// RFC 2047 encoded words. The body is the first text/plain part of a
// multipart message, or the whole payload of a single-part one. Decoding
// problems inside the body are tolerated: whatever text could be read is kept.
func Normalize(uid uint32, raw []byte) (Message, error) {
	msg := Message{UID: uid, Date: "unknown"}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		return msg, fmt.Errorf("failed to parse message %d: %w", uid, err)
	}

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = mr.Header.Get("Subject")
	}
	if d := mr.Header.Get("Date"); d != "" {
		msg.Date = d
	}
	if t, err := mr.Header.Date(); err == nil {
		msg.ReceivedAt = t
	}

	mediaType, _, _ := mr.Header.ContentType()
	multipart := strings.HasPrefix(mediaType, "multipart/")

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && (p == nil || !message.IsUnknownCharset(err)) {
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if multipart && ct != "text/plain" {
			continue
		}

		data, _ := io.ReadAll(p.Body)
		msg.Body = strings.ToValidUTF8(string(data), "")
		break
	}

	msg.Preview = makePreview(msg.Body)
	return msg, nil
}

func makePreview(body string) string {
	r := []rune(body)
	if len(r) > previewLength {
		r = r[:previewLength]
	}
	s := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(string(r))
	return strings.ToLower(strings.TrimSpace(s))
}
