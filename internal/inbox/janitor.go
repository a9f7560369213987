package inbox

import (
	"context"

	"github.com/metawebart/formwatch/internal/logging"
)

// Janitor removes the messages that served as evidence for a working form.
type Janitor struct {
	dial    Dialer
	enabled bool
}

// NewJanitor creates a Janitor. When enabled is false Cleanup only logs.
func NewJanitor(dial Dialer, enabled bool) *Janitor {
	return &Janitor{dial: dial, enabled: enabled}
}

// Cleanup reconnects once and discards each uid in order. The first failure
// is logged and aborts the remaining uids. Nothing is returned: cleanup
// problems never affect the run outcome.
func (j *Janitor) Cleanup(ctx context.Context, uids []uint32) {
	log := logging.FromContext(ctx).With("component", "janitor")

	if !j.enabled {
		log.Info("cleanup disabled, keeping messages", "matched", len(uids))
		return
	}
	if len(uids) == 0 {
		log.Info("no matched messages to clean up")
		return
	}

	t := j.dial()
	if err := t.Connect(ctx); err != nil {
		log.Error("mailbox connection failed", "error", err)
		return
	}
	defer func() {
		if err := t.Disconnect(); err != nil {
			log.Warn("logout failed", "error", err)
		}
	}()

	removed := 0
	for _, uid := range uids {
		if err := t.Discard(uid); err != nil {
			log.Error("cleanup aborted", "uid", uid, "removed", removed, "remaining", len(uids)-removed, "error", err)
			break
		}
		removed++
	}

	if err := t.Expunge(); err != nil {
		log.Error("expunge failed", "error", err)
		return
	}
	log.Info("cleaned up matched messages", "removed", removed)
}
