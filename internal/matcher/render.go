package matcher

import (
	"fmt"
	"strings"
)

// RenderReport groups outcomes by site, preserving order:
//
//	\nСайт metawebart.com
//	Форма 1 - работает
//	Форма 2 - не работает
func RenderReport(outcomes []Outcome) string {
	var lines []string
	site := ""
	for i, o := range outcomes {
		if i == 0 || o.Form.Site != site {
			site = o.Form.Site
			lines = append(lines, "\nСайт "+site)
		}
		lines = append(lines, fmt.Sprintf("%s - %s", o.Form.Name, o.Status()))
	}
	return strings.Join(lines, "\n")
}

// RenderTrace explains each verdict: the credited message for working forms,
// and the matched and missing substrings of every examined message otherwise.
func RenderTrace(outcomes []Outcome) string {
	var b strings.Builder
	for _, o := range outcomes {
		fmt.Fprintf(&b, "\n-> %s / %s:", o.Form.Site, o.Form.Name)
		for _, p := range o.Probes {
			fmt.Fprintf(&b, "\n   message %q (uid %d)", p.Subject, p.UID)
			fmt.Fprintf(&b, "\n      received: %s", p.Date)
			fmt.Fprintf(&b, "\n      body: %q", p.Preview)
			fmt.Fprintf(&b, "\n      matched: %s", quoteList(p.Matched))
			fmt.Fprintf(&b, "\n      missing: %s", quoteList(p.Missing))
		}
		if o.Working {
			fmt.Fprintf(&b, "\n   found matching message (uid %d)", o.MatchedUID)
		} else if len(o.Probes) == 0 {
			b.WriteString("\n   no messages examined")
		}
	}
	return b.String()
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(q, ", ") + "]"
}
