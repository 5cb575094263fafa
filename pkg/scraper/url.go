package scraper

import (
	"net/url"
	"strings"
)

// DefaultBaseURL is the site crawled when no base URL is configured
const DefaultBaseURL = "https://x.com"

// SearchURL builds the live search URL for subject. Subjects are treated as
// cashtags unless they already start with $ or #.
func SearchURL(base, subject, since string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	subject = strings.TrimSpace(subject)
	if !strings.HasPrefix(subject, "$") && !strings.HasPrefix(subject, "#") {
		subject = "$" + subject
	}

	q := subject
	if since != "" {
		q += " since:" + since
	}

	return strings.TrimRight(base, "/") + "/search?q=" +
		strings.ReplaceAll(url.QueryEscape(q), "+", "%20") +
		"&src=typed_query&f=live"
}

// recordSubject strips the cashtag or hashtag marker from a subject
func recordSubject(subject string) string {
	return strings.TrimLeft(strings.TrimSpace(subject), "$#")
}

var loginPaths = []string{"/login", "/i/flow/login", "/i/flow/signup", "/logout"}

// isChallengeURL reports whether current is the locked-account challenge page
func isChallengeURL(current string) bool {
	cu, err := url.Parse(current)
	if err != nil {
		return false
	}
	return strings.HasPrefix(cu.Path, "/account/access")
}

// isAuthRedirect reports whether current is a login page or a home page the
// crawl did not ask for
func isAuthRedirect(current, target string) bool {
	cu, err := url.Parse(current)
	if err != nil || (cu.Path == "" && cu.Host == "") {
		return false
	}
	path := strings.TrimRight(cu.Path, "/")

	for _, p := range loginPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}

	if path == "" || path == "/home" {
		tu, err := url.Parse(target)
		if err != nil {
			return true
		}
		return strings.TrimRight(tu.Path, "/") != path
	}
	return false
}
