package inbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMbox = "From sender@example.com Mon Jun  9 10:00:00 2025\n" +
	"From: site@acme.test\n" +
	"Subject: Old lead\n" +
	"Date: Mon, 09 Jun 2025 10:00:00 +0000\n" +
	"\n" +
	"stale message\n" +
	"\n" +
	"From sender@example.com Tue Jun 10 09:00:00 2025\n" +
	"From: site@acme.test\n" +
	"Subject: New lead from Acme\n" +
	"Date: Tue, 10 Jun 2025 09:00:00 +0000\n" +
	"\n" +
	"email: foo@bar.com\n" +
	"\n" +
	"From sender@example.com Tue Jun 10 09:30:00 2025\n" +
	"From: site@acme.test\n" +
	"Subject: Undated\n" +
	"\n" +
	"no date header\n"

func writeMbox(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	require.NoError(t, os.WriteFile(path, []byte(testMbox), 0600))
	return path
}

func TestMboxTransportSearch(t *testing.T) {
	tr := NewMboxTransport(writeMbox(t))

	_, err := tr.Search(time.Now())
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	ids, err := tr.Search(time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, ids)

	raw, err := tr.Fetch(2)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "New lead from Acme")

	_, err = tr.Fetch(9)
	assert.Error(t, err)
	assert.ErrorIs(t, tr.Discard(2), ErrReadOnly)
}

func TestFetcherOverMbox(t *testing.T) {
	f := NewFetcher(MboxDialer(writeMbox(t)))
	f.now = func() time.Time { return time.Date(2025, time.June, 10, 10, 0, 0, 0, time.UTC) }

	messages := f.FetchRecent(context.Background(), 15*time.Minute)

	require.Len(t, messages, 2)
	assert.Equal(t, "Undated", messages[0].Subject)
	assert.Equal(t, "unknown", messages[0].Date)
	assert.Equal(t, "New lead from Acme", messages[1].Subject)
	assert.Equal(t, "email: foo@bar.com", strings.TrimSpace(messages[1].Body))
}

func TestMboxMissingFile(t *testing.T) {
	f := NewFetcher(MboxDialer(filepath.Join(t.TempDir(), "missing.mbox")))
	assert.Empty(t, f.FetchRecent(context.Background(), time.Hour))
}
