package session

import (
	"net/url"
	"strings"
)

// accessDeniedMarkers are lower-cased phrases the site uses when it refuses a visitor.
var accessDeniedMarkers = []string{
	"outside the permitted country",
	"access denied",
	"access is denied",
	"you don't have permission to access",
	"request blocked",
	"accès refusé",
}

// IsAccessDenied reports whether page text carries an access-denial message.
func IsAccessDenied(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range accessDeniedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// socialDomains are never followed while looking for the booking form.
var socialDomains = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"linkedin.com",
	"youtube.com",
	"tiktok.com",
	"whatsapp.com",
	"wa.me",
	"t.me",
}

var excludedWords = []string{"reprint", "re-print", "réimpr", "cancel", "annul"}

var bookingTextWords = []string{
	"book appointment",
	"book an appointment",
	"book now",
	"book new appointment",
	"prendre rendez-vous",
	"prise de rendez-vous",
	"appointment booking",
}

var bookingHrefWords = []string{"appointment", "booking", "book", "rendez-vous", "rdv"}

// Link is an anchor candidate for the booking surface.
type Link struct {
	Text string
	Href string
}

// HostMatches reports whether rawURL's host is one of domains or a subdomain of one.
func HostMatches(rawURL string, domains []string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// ExcludedLink reports whether a link must never be followed: reprint and
// cancellation pages, social media, and non-navigational schemes.
func ExcludedLink(l Link) bool {
	href := strings.ToLower(strings.TrimSpace(l.Href))
	text := strings.ToLower(l.Text)
	if href == "" || href == "#" {
		return true
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(href, scheme) {
			return true
		}
	}
	for _, w := range excludedWords {
		if strings.Contains(text, w) || strings.Contains(href, w) {
			return true
		}
	}
	return HostMatches(href, socialDomains)
}

// ChooseBookingLink returns the index of the booking link, or -1. Links are
// matched first by text, then by href pattern. Excluded links never match.
func ChooseBookingLink(links []Link) int {
	for i, l := range links {
		if ExcludedLink(l) {
			continue
		}
		text := strings.ToLower(l.Text)
		for _, w := range bookingTextWords {
			if strings.Contains(text, w) {
				return i
			}
		}
	}
	for i, l := range links {
		if ExcludedLink(l) {
			continue
		}
		href := strings.ToLower(l.Href)
		for _, w := range bookingHrefWords {
			if strings.Contains(href, w) {
				return i
			}
		}
	}
	return -1
}

// MatchOption returns the value of the first option whose value or label
// matches one of wants. Exact matches win over substring matches.
func MatchOption(options []Option, wants ...string) (string, bool) {
	for _, w := range wants {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, o := range options {
			if strings.ToLower(o.Value) == w || strings.ToLower(o.Label) == w {
				return o.Value, true
			}
		}
	}
	for _, w := range wants {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, o := range options {
			if o.Value == "" {
				continue
			}
			if strings.Contains(strings.ToLower(o.Label), w) || strings.Contains(strings.ToLower(o.Value), w) {
				return o.Value, true
			}
		}
	}
	return "", false
}
