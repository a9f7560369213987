package submitter

import (
	"fmt"
	"strings"

	"github.com/metawebart/formwatch/internal/catalog"
)

// Checkbox outcomes reported by checkboxScript.
const (
	checkboxTicked   = "ticked"
	checkboxMissing  = "missing"
	checkboxDisabled = "disabled"
	checkboxNoLabel  = "no_label"
)

// submitSelectors are tried in order, page-wide.
var submitSelectors = []string{
	"a.feedback_submit",
	"a.submit_button",
	"button[type='submit']",
}

// Field is one input to fill: the first visible selector wins.
type Field struct {
	Name      string
	Value     string
	Selectors []string
}

// fieldPlan lists the inputs typed into every form. Sites use either plain
// names or the SubscribeForm[...] widget.
func fieldPlan(job Job) []Field {
	return []Field{
		{
			Name:      "email",
			Value:     job.Contact.Email,
			Selectors: []string{"input[name='email']", "input[name='SubscribeForm[email]']"},
		},
		{
			Name:      "phone",
			Value:     job.Phone,
			Selectors: []string{"input[type='tel']", "input[name='phone']", "input[name='SubscribeForm[phone]']"},
		},
		{
			Name:      "name",
			Value:     job.Contact.Name,
			Selectors: []string{"input[name='SubscribeForm[name]']"},
		},
		{
			Name:      "website",
			Value:     job.Contact.Website,
			Selectors: []string{"input[name='SubscribeForm[website]']"},
		},
	}
}

// NewJob binds a form to the contact data typed into it.
func NewJob(c *catalog.Catalog, f catalog.Form) Job {
	return Job{Form: f, Contact: c.Contact, Phone: c.PhoneFor(f)}
}

// scoped restricts selector to descendants of scope.
func scoped(scope, selector string) string {
	if scope == "" {
		return selector
	}
	return scope + " " + selector
}

// escapeSelector escapes special characters in CSS selectors for JS strings
func escapeSelector(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func visibleScript(selector string) string {
	return fmt.Sprintf(`(function() {
		var el = document.querySelector("%s");
		if (!el) return false;
		var style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && style.opacity === '1';
	})()`, escapeSelector(selector))
}

func hasFormScript(container string) string {
	return fmt.Sprintf(`(function() {
		var el = document.querySelector("%s");
		return el !== null && el.querySelector('form') !== null;
	})()`, escapeSelector(container))
}

const clickEventJS = `function(el) {
		var rect = el.getBoundingClientRect();
		el.dispatchEvent(new MouseEvent('click', {
			bubbles: true,
			cancelable: true,
			view: window,
			clientX: rect.left + rect.width / 2,
			clientY: rect.top + rect.height / 2
		}));
	}`

func dispatchClickScript(selector string) string {
	return fmt.Sprintf(`(function() {
	var click = %s;
	var el = document.querySelector("%s");
	if (!el) return false;
	click(el);
	return true;
})()`, clickEventJS, escapeSelector(selector))
}

// checkboxScript ticks the first checkbox in scope through its label and
// reports one of the checkbox* states.
func checkboxScript(scope, labelOverride string) string {
	root := "document"
	if scope != "" {
		root = fmt.Sprintf(`(document.querySelector("%s") || document)`, escapeSelector(scope))
	}
	return fmt.Sprintf(`(function() {
	var click = %s;
	var root = %s;
	var box = root.querySelector("input[type='checkbox']");
	if (!box) return %q;
	if (box.offsetParent === null || box.disabled) return %q;
	var label = null;
	var override = "%s";
	if (override) {
		label = root.querySelector(override);
	} else {
		if (box.id) label = root.querySelector('label[for="' + box.id + '"]');
		if (!label) label = box.closest('label');
	}
	if (!label) return %q;
	click(label);
	return %q;
})()`, clickEventJS, root, checkboxMissing, checkboxDisabled, escapeSelector(labelOverride),
		checkboxNoLabel, checkboxTicked)
}
