// Package matcher decides which catalog forms produced a notification email.
// It performs no I/O: given messages and a catalog it yields verdicts, the
// operator report and the ids of the messages that served as evidence.
package matcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/metawebart/formwatch/internal/catalog"
	"github.com/metawebart/formwatch/internal/inbox"
)

// Status words used in the operator report.
const (
	StatusWorking    = "работает"
	StatusNotWorking = "не работает"
)

// Probe records why an examined message did not satisfy a form.
type Probe struct {
	UID     uint32
	Subject string
	Date    string
	Preview string
	Matched []string
	Missing []string
}

// Outcome is the verdict for one form.
type Outcome struct {
	Form       catalog.Form
	Working    bool
	MatchedUID uint32  // set only when Working
	Probes     []Probe // messages examined before the match, or all of them
}

// Status returns the report word for the outcome.
func (o Outcome) Status() string {
	if o.Working {
		return StatusWorking
	}
	return StatusNotWorking
}

// Result is the verdict for a whole catalog.
type Result struct {
	Outcomes   []Outcome
	Report     string
	MatchedIDs []uint32
}

// WorkingCount returns how many forms were confirmed.
func (r Result) WorkingCount() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Working {
			n++
		}
	}
	return n
}

type foldedMessage struct {
	subject string
	body    string
}

func fold(messages []inbox.Message) []foldedMessage {
	lower := cases.Lower(language.Und)
	out := make([]foldedMessage, len(messages))
	for i, m := range messages {
		out[i] = foldedMessage{
			subject: lower.String(m.Subject),
			body:    lower.String(m.Body),
		}
	}
	return out
}

// Match scans messages in order and stops at the first one containing every
// required substring of form, case-insensitively, in its subject or body.
func Match(messages []inbox.Message, form catalog.Form) Outcome {
	return match(messages, fold(messages), form)
}

func match(messages []inbox.Message, folded []foldedMessage, form catalog.Form) Outcome {
	lower := cases.Lower(language.Und)
	needles := make([]string, len(form.Required))
	for i, r := range form.Required {
		needles[i] = lower.String(r)
	}

	out := Outcome{Form: form}
	for i, m := range messages {
		var matched, missing []string
		for j, needle := range needles {
			if strings.Contains(folded[i].subject, needle) || strings.Contains(folded[i].body, needle) {
				matched = append(matched, form.Required[j])
			} else {
				missing = append(missing, form.Required[j])
			}
		}

		if len(missing) == 0 {
			out.Working = true
			out.MatchedUID = m.UID
			return out
		}
		out.Probes = append(out.Probes, Probe{
			UID:     m.UID,
			Subject: strings.TrimSpace(m.Subject),
			Date:    m.Date,
			Preview: m.Preview,
			Matched: matched,
			Missing: missing,
		})
	}
	return out
}

// Check matches every catalog form in declaration order. MatchedIDs holds,
// once each, the id credited to every working form.
func Check(messages []inbox.Message, cat *catalog.Catalog) Result {
	folded := fold(messages)

	var res Result
	seen := make(map[uint32]bool)
	for _, form := range cat.Forms() {
		o := match(messages, folded, form)
		res.Outcomes = append(res.Outcomes, o)
		if o.Working && !seen[o.MatchedUID] {
			seen[o.MatchedUID] = true
			res.MatchedIDs = append(res.MatchedIDs, o.MatchedUID)
		}
	}
	res.Report = RenderReport(res.Outcomes)
	return res
}
