package matcher

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metawebart/formwatch/internal/catalog"
	"github.com/metawebart/formwatch/internal/inbox"
)

func acmeCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(`
sites:
  - site: acme.test
    forms:
      - name: Contact
        required: ["Acme", "foo@bar.com"]
      - name: Callback
        required: ["Acme", "+100200300"]
  - site: other.test
    forms:
      - name: Subscribe
        required: ["other.test"]
`))
	require.NoError(t, err)
	return c
}

func msg(uid uint32, subject, body string) inbox.Message {
	return inbox.Message{UID: uid, Subject: subject, Body: body, Date: "unknown", Preview: strings.ToLower(body)}
}

func TestMatch(t *testing.T) {
	form := catalog.Form{Site: "acme.test", Name: "Contact", Required: []string{"Acme", "foo@bar.com"}}

	tests := []struct {
		name     string
		messages []inbox.Message
		working  bool
		uid      uint32
		probes   int
	}{
		{
			name:     "no messages",
			messages: nil,
			working:  false,
		},
		{
			name:     "substrings split between subject and body",
			messages: []inbox.Message{msg(1, "New lead: ACME", "reply to FOO@bar.com")},
			working:  true,
			uid:      1,
		},
		{
			name: "first satisfying message wins",
			messages: []inbox.Message{
				msg(3, "acme", "nothing here"),
				msg(2, "acme", "foo@bar.com"),
				msg(1, "acme", "foo@bar.com"),
			},
			working: true,
			uid:     2,
			probes:  1,
		},
		{
			name:     "substrings spread over two messages do not count",
			messages: []inbox.Message{msg(2, "Acme", ""), msg(1, "", "foo@bar.com")},
			working:  false,
			probes:   2,
		},
		{
			name:     "literal matching, no pattern semantics",
			messages: []inbox.Message{msg(1, "Acme", "fooXbar.com")},
			working:  false,
			probes:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Match(tt.messages, form)
			assert.Equal(t, tt.working, o.Working)
			if tt.working {
				assert.Equal(t, tt.uid, o.MatchedUID)
			}
			assert.Len(t, o.Probes, tt.probes)
		})
	}
}

func TestMatchTracePartition(t *testing.T) {
	form := catalog.Form{Name: "F", Required: []string{"a.com", "Phone", "x"}}
	o := Match([]inbox.Message{msg(9, "A.COM lead", "phone: 1")}, form)

	require.Len(t, o.Probes, 1)
	assert.Equal(t, []string{"a.com", "Phone"}, o.Probes[0].Matched)
	assert.Equal(t, []string{"x"}, o.Probes[0].Missing)
	assert.Equal(t, uint32(9), o.Probes[0].UID)
}

func TestMatchCyrillicCaseInsensitive(t *testing.T) {
	form := catalog.Form{Name: "Форма 1", Required: []string{"Тестовый Марк", "ЗАЯВКА"}}
	o := Match([]inbox.Message{msg(1, "Новая заявка", "ИМЯ: ТЕСТОВЫЙ МАРК")}, form)
	assert.True(t, o.Working)
}

func TestCheckAcmeScenario(t *testing.T) {
	cat := acmeCatalog(t)
	messages := []inbox.Message{
		msg(42, "Lead from Acme", "Contact: foo@bar.com"),
		msg(41, "Unrelated", "newsletter"),
	}

	res := Check(messages, cat)

	require.Len(t, res.Outcomes, 3)
	assert.True(t, res.Outcomes[0].Working)
	assert.False(t, res.Outcomes[1].Working)
	assert.False(t, res.Outcomes[2].Working)
	assert.Equal(t, []uint32{42}, res.MatchedIDs)
	assert.Equal(t, 1, res.WorkingCount())
	assert.Equal(t,
		"\nСайт acme.test\nContact - работает\nCallback - не работает\n\nСайт other.test\nSubscribe - не работает",
		res.Report)
}

func TestCheckEmptyInbox(t *testing.T) {
	cat := acmeCatalog(t)

	res := Check(nil, cat)

	require.Len(t, res.Outcomes, 3)
	for _, o := range res.Outcomes {
		assert.False(t, o.Working)
	}
	assert.Empty(t, res.MatchedIDs)
	assert.Equal(t, 3, strings.Count(res.Report, StatusNotWorking))
	assert.Contains(t, RenderTrace(res.Outcomes), "no messages examined")
}

func TestCheckCreditsSharedMessageOnce(t *testing.T) {
	cat := acmeCatalog(t)
	messages := []inbox.Message{msg(7, "Acme", "foo@bar.com +100200300 other.test")}

	res := Check(messages, cat)

	assert.Equal(t, 3, res.WorkingCount())
	assert.Equal(t, []uint32{7}, res.MatchedIDs)
}

func TestCheckProperties(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	forms := cat.Forms()

	vocabulary := []string{
		"Metawebart.com", "meta-sistem.md", "mark.aborchie@gmail.com", "+35800000000",
		"+35811111111", "+79990000000", "+79990000001", "https://meta-test.com/", "noise",
	}
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 50; round++ {
		var messages []inbox.Message
		ids := make(map[uint32]bool)
		n := rng.Intn(6)
		for i := 0; i < n; i++ {
			var parts []string
			for _, w := range vocabulary {
				if rng.Intn(2) == 0 {
					if rng.Intn(2) == 0 {
						w = strings.ToUpper(w)
					}
					parts = append(parts, w)
				}
			}
			uid := uint32(100 - i)
			ids[uid] = true
			half := len(parts) / 2
			messages = append(messages, msg(uid, strings.Join(parts[:half], " "), strings.Join(parts[half:], "\n")))
		}

		res := Check(messages, cat)

		require.Len(t, res.Outcomes, len(forms), "round %d", round)
		for i, o := range res.Outcomes {
			assert.Equal(t, forms[i].Name, o.Form.Name)
			assert.Equal(t, hasWitness(messages, forms[i]), o.Working, "round %d form %s", round, forms[i].Name)
		}
		assert.LessOrEqual(t, len(res.MatchedIDs), len(forms))
		for _, id := range res.MatchedIDs {
			assert.True(t, ids[id], "credited id %d not among messages", id)
		}
		for _, f := range forms {
			assert.Equal(t, 1, strings.Count(res.Report, "\n"+f.Name+" - "), "form %s reported once", f.Name)
		}
		assert.Equal(t, res, Check(messages, cat), "matcher must be idempotent")
	}
}

func hasWitness(messages []inbox.Message, f catalog.Form) bool {
	for _, m := range messages {
		subject, body := strings.ToLower(m.Subject), strings.ToLower(m.Body)
		all := true
		for _, r := range f.Required {
			r = strings.ToLower(r)
			if !strings.Contains(subject, r) && !strings.Contains(body, r) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func TestRenderTrace(t *testing.T) {
	cat := acmeCatalog(t)
	res := Check([]inbox.Message{msg(5, " Acme lead ", "nothing")}, cat)

	trace := RenderTrace(res.Outcomes)

	assert.Contains(t, trace, "-> acme.test / Contact:")
	assert.Contains(t, trace, `message "Acme lead" (uid 5)`)
	assert.Contains(t, trace, fmt.Sprintf("missing: [%q]", "foo@bar.com"))
}
