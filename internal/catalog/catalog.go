// Package catalog loads the static list of monitored forms: which site each
// form belongs to, the substrings its notification email must contain, and
// how the submitter reaches it.
package catalog

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is the ordered set of sites and forms. Order is significant: the
// report lists sites and forms exactly as declared.
type Catalog struct {
	Sites   []Site  `yaml:"sites"`
	Contact Contact `yaml:"contact"`
}

type Site struct {
	Name  string `yaml:"site"`
	Forms []Form `yaml:"forms"`
}

// Form is identified by (Site, Name). Required holds the substrings that must
// all appear in one message for the form to count as working.
type Form struct {
	Site     string   `yaml:"-"`
	Name     string   `yaml:"name"`
	Required []string `yaml:"required"`
	Target   Target   `yaml:"target"`
}

// Target describes how the submitter reaches and fills a form.
type Target struct {
	URL            string   `yaml:"url"`
	PopupTrigger   string   `yaml:"popup_trigger,omitempty"`   // button that opens a modal form
	PopupContainer string   `yaml:"popup_container,omitempty"` // modal element holding the form
	ConsentButton  string   `yaml:"consent_button,omitempty"`  // cookie/consent banner to dismiss first
	CheckboxLabel  string   `yaml:"checkbox_label,omitempty"`  // label to click instead of the checkbox's own
	ExtraClicks    []string `yaml:"extra_clicks,omitempty"`
	Phone          string   `yaml:"phone,omitempty"`
}

// Contact is the test identity typed into every form.
type Contact struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Phone   string `yaml:"phone"`
	Website string `yaml:"website"`
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFromFile reads a catalog from path, or the embedded default when path is empty.
func LoadFromFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	for i := range c.Sites {
		for j := range c.Sites[i].Forms {
			c.Sites[i].Forms[j].Site = c.Sites[i].Name
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects catalogs the matcher cannot evaluate meaningfully. A form
// with no required substrings would match the first message scanned.
func (c *Catalog) Validate() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("catalog: no sites defined")
	}
	seen := make(map[string]bool)
	sites := make(map[string]bool)
	for _, s := range c.Sites {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("catalog: site name is required")
		}
		// Reports group forms under one header per site.
		if sites[strings.ToLower(s.Name)] {
			return fmt.Errorf("catalog: site %q is listed more than once", s.Name)
		}
		sites[strings.ToLower(s.Name)] = true
		if len(s.Forms) == 0 {
			return fmt.Errorf("catalog: site %q has no forms", s.Name)
		}
		for _, f := range s.Forms {
			if strings.TrimSpace(f.Name) == "" {
				return fmt.Errorf("catalog: site %q has a form without a name", s.Name)
			}
			key := strings.ToLower(s.Name + "\x00" + f.Name)
			if seen[key] {
				return fmt.Errorf("catalog: duplicate form %q on site %q", f.Name, s.Name)
			}
			seen[key] = true

			if len(f.Required) == 0 {
				return fmt.Errorf("catalog: form %q on site %q has no required substrings", f.Name, s.Name)
			}
			for _, r := range f.Required {
				if strings.TrimSpace(r) == "" {
					return fmt.Errorf("catalog: form %q on site %q has an empty required substring", f.Name, s.Name)
				}
			}
			if f.Target.URL != "" && !isValidURL(f.Target.URL) {
				return fmt.Errorf("catalog: form %q has invalid target url %q", f.Name, f.Target.URL)
			}
		}
	}
	return nil
}

// Forms returns every form in declaration order.
func (c *Catalog) Forms() []Form {
	var forms []Form
	for _, s := range c.Sites {
		forms = append(forms, s.Forms...)
	}
	return forms
}

// Targets returns the forms that have a submission target, in declaration order.
func (c *Catalog) Targets() []Form {
	var out []Form
	for _, f := range c.Forms() {
		if f.Target.URL != "" {
			out = append(out, f)
		}
	}
	return out
}

// FindForm looks a form up by name, case-insensitively.
func (c *Catalog) FindForm(name string) *Form {
	name = strings.ToLower(name)
	for i := range c.Sites {
		for j := range c.Sites[i].Forms {
			if strings.ToLower(c.Sites[i].Forms[j].Name) == name {
				return &c.Sites[i].Forms[j]
			}
		}
	}
	return nil
}

// PhoneFor returns the phone number typed into f: its own, or the contact default.
func (c *Catalog) PhoneFor(f Form) string {
	if f.Target.Phone != "" {
		return f.Target.Phone
	}
	return c.Contact.Phone
}

// Marshal renders the catalog back to YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize catalog: %w", err)
	}
	return data, nil
}
