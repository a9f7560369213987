package submitter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Captcha kinds recognised by InspectPage
const (
	CaptchaRecaptchaV2 = "recaptcha_v2"
	CaptchaRecaptchaV3 = "recaptcha_v3"
	CaptchaHCaptcha    = "hcaptcha"
	CaptchaTurnstile   = "cloudflare_turnstile"
	CaptchaUnknown     = "unknown"
)

// PageInfo summarises a loaded page before any field is touched.
type PageInfo struct {
	Title         string
	Forms         int
	Inputs        int
	SubmitButtons int
	Captcha       string // empty when none was seen
}

// CaptchaBlocking reports whether the captcha needs a human. reCAPTCHA v3 is
// invisible and scores the visitor silently.
func (p PageInfo) CaptchaBlocking() bool {
	return p.Captcha != "" && p.Captcha != CaptchaRecaptchaV3
}

// InspectPage parses page HTML and counts what the submitter will work with.
func InspectPage(html string) (PageInfo, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageInfo{}, fmt.Errorf("failed to parse page: %w", err)
	}

	info := PageInfo{
		Title:         strings.TrimSpace(doc.Find("title").First().Text()),
		Forms:         doc.Find("form").Length(),
		Inputs:        doc.Find("input, textarea").Not("[type='hidden'], [type='submit'], [type='button']").Length(),
		SubmitButtons: doc.Find(strings.Join(submitSelectors, ", ")).Length(),
		Captcha:       detectCaptcha(doc),
	}
	return info, nil
}

func detectCaptcha(doc *goquery.Document) string {
	switch {
	case doc.Find(".h-captcha, iframe[src*='hcaptcha']").Length() > 0:
		return CaptchaHCaptcha
	case doc.Find(".cf-turnstile, script[src*='challenges.cloudflare.com']").Length() > 0:
		return CaptchaTurnstile
	case doc.Find(".g-recaptcha, iframe[src*='recaptcha'], [data-sitekey]").Length() > 0:
		return CaptchaRecaptchaV2
	case doc.Find("script[src*='recaptcha'][src*='render=']").Length() > 0:
		return CaptchaRecaptchaV3
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, keyword := range []string{"captcha", "prove you are human", "verification code"} {
		if strings.Contains(text, keyword) {
			return CaptchaUnknown
		}
	}
	return ""
}
