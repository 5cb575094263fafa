package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to copy the session cookies out of a browser
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	lines := []string{
		rule,
		"X SESSION COOKIE GUIDE",
		rule,
		"",
		"Search results on x.com require a logged-in session. The crawler",
		"reuses your browser session through two cookies.",
		"",
		"STEP 1: Log in at https://x.com in a desktop browser",
		"",
		"STEP 2: Open Developer Tools (F12, or Cmd+Option+I on Mac)",
		"",
		"STEP 3: Find the cookies",
		"   Chrome/Edge: Application tab > Cookies > https://x.com",
		"   Firefox:     Storage tab > Cookies > https://x.com",
		"   Or copy the whole 'cookie:' request header from the Network tab",
		"   and paste it when asked; both values are picked out of it.",
		"",
		"STEP 4: Copy these values",
		"   auth_token   40 hex characters, HttpOnly",
		"   ct0          long hex string, also sent as x-csrf-token",
		"",
		"Tips:",
		"   Copy only the value, without quotes or semicolons.",
		"   Logging out of the browser invalidates the session.",
		"   A secondary account keeps your main account out of rate limits.",
		"",
		"These cookies grant full access to the account. They are stored in",
		"the system keychain or an encrypted file, never in plain text.",
		rule,
	}
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

// WriteQuickGuide prints the one-line version of WriteCookieGuide
func WriteQuickGuide(w io.Writer) {
	fmt.Fprintln(w, "F12 > Application > Cookies > https://x.com: copy auth_token and ct0 (type 'help' for details)")
}
