package extract

import (
	"net/url"
	"strings"
)

// CanonicalPermalink resolves href against base and trims it to the
// ".../status/<id>" form so that photo, analytics and tracking variants of the
// same post share one identity. It returns "" when href is not a status link.
func CanonicalPermalink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() && base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return ""
		}
		ref = b.ResolveReference(ref)
	}

	segments := strings.Split(strings.Trim(ref.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "status" && i+1 < len(segments) && segments[i+1] != "" {
			ref.Path = "/" + strings.Join(segments[:i+2], "/")
			ref.RawQuery = ""
			ref.Fragment = ""
			ref.RawPath = ""
			ref.Host = strings.ToLower(ref.Host)
			return ref.String()
		}
	}
	return ""
}

// StatusID returns the numeric post id of a permalink, or ""
func StatusID(permalink string) string {
	_, after, ok := strings.Cut(permalink, "/status/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(after, "/")
	return id
}
