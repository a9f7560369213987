package inbox

import (
	"context"
	"sort"
	"time"

	"github.com/metawebart/formwatch/internal/logging"
)

// Fetcher collects recent messages from the mailbox.
type Fetcher struct {
	dial Dialer
	now  func() time.Time
}

// NewFetcher creates a Fetcher that dials a new transport per call.
func NewFetcher(dial Dialer) *Fetcher {
	return &Fetcher{dial: dial, now: time.Now}
}

// CutoffDate returns the start of the day containing now-lookback, in now's
// location. IMAP SINCE is date-only, so the effective window is always at
// least lookback and can reach back to the previous midnight.
func CutoffDate(now time.Time, lookback time.Duration) time.Time {
	t := now.Add(-lookback)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FetchRecent returns normalized messages received since the cutoff date,
// newest first. Messages that fail to fetch or parse are skipped. Any
// connection or search failure yields an empty result.
func (f *Fetcher) FetchRecent(ctx context.Context, lookback time.Duration) []Message {
	log := logging.FromContext(ctx).With("component", "fetcher")

	t := f.dial()
	if err := t.Connect(ctx); err != nil {
		log.Error("mailbox connection failed", "error", err)
		return nil
	}
	defer func() {
		if err := t.Disconnect(); err != nil {
			log.Warn("logout failed", "error", err)
		}
	}()

	cutoff := CutoffDate(f.now(), lookback)
	uids, err := t.Search(cutoff)
	if err != nil {
		log.Error("mailbox search failed", "since", cutoff.Format("02-Jan-2006"), "error", err)
		return nil
	}
	log.Info("found messages", "count", len(uids), "since", cutoff.Format("02-Jan-2006"))

	// UIDs grow with arrival order.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	var messages []Message
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			log.Warn("fetch interrupted", "fetched", len(messages), "error", err)
			break
		}

		raw, err := t.Fetch(uid)
		if err != nil {
			log.Warn("skipping message", "uid", uid, "error", err)
			continue
		}
		msg, err := Normalize(uid, raw)
		if err != nil {
			log.Warn("skipping message", "uid", uid, "error", err)
			continue
		}
		log.Debug("fetched message", "uid", uid, "subject", msg.Subject, "date", msg.Date)
		messages = append(messages, msg)
	}

	return messages
}
