// Package counts turns the engagement numbers rendered on feed pages into
// integers. Nothing in this package returns an error: unreadable input is
// reported as zero.
package counts

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"feedcrawler/pkg/models"
)

// maxFractionDigits bounds the precision kept from "1.23456K"-style input
const maxFractionDigits = 6

// Normalize parses strings like "1,234", "1.2K" and "3M" into a non-negative
// integer. Suffixes are case-sensitive; anything unparseable yields 0.
func Normalize(text string) int {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if s == "" {
		return 0
	}

	multiplier := 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1_000
		s = strings.TrimSpace(strings.TrimSuffix(s, "K"))
	case strings.HasSuffix(s, "M"):
		multiplier = 1_000_000
		s = strings.TrimSpace(strings.TrimSuffix(s, "M"))
	}

	n, ok := scaled(s, multiplier)
	if !ok || n < 0 {
		return 0
	}
	return n
}

// scaled computes decimal*multiplier with integer arithmetic, truncating
// whatever falls below one unit. Results that do not fit an int are rejected.
func scaled(decimal string, multiplier int) (int, bool) {
	if decimal == "" {
		return 0, false
	}

	whole, frac, hasFrac := strings.Cut(decimal, ".")
	if hasFrac && multiplier == 1 {
		// "12.5" without a suffix is not a count
		return 0, false
	}
	if whole == "" && frac == "" {
		return 0, false
	}
	if !digits(whole) || !digits(frac) {
		return 0, false
	}

	w := 0
	if whole != "" {
		v, err := strconv.Atoi(whole)
		if err != nil {
			return 0, false
		}
		w = v
	}

	part := 0
	if frac != "" {
		if len(frac) > maxFractionDigits {
			frac = frac[:maxFractionDigits]
		}
		f, err := strconv.Atoi(frac)
		if err != nil {
			return 0, false
		}
		scale := 1
		for range frac {
			scale *= 10
		}
		part = f * multiplier / scale
	}

	if w > (math.MaxInt-part)/multiplier {
		return 0, false
	}
	return w*multiplier + part, true
}

// digits reports whether s holds only ASCII digits
func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

var (
	countToken  = `([\d][\d,]*(?:\.\d+)?[KM]?)`
	repliesRe   = regexp.MustCompile(countToken + `\s+[Rr]epl`)
	repostsRe   = regexp.MustCompile(countToken + `\s+(?:[Rr]epost|[Rr]etweet)`)
	likesRe     = regexp.MustCompile(countToken + `\s+[Ll]ike`)
	viewsRe     = regexp.MustCompile(countToken + `\s+[Vv]iew`)
	labelFields = []struct {
		re  *regexp.Regexp
		set func(*models.Metrics, int)
	}{
		{repliesRe, func(m *models.Metrics, v int) { m.Comments = v }},
		{repostsRe, func(m *models.Metrics, v int) { m.Reposts = v }},
		{likesRe, func(m *models.Metrics, v int) { m.Likes = v }},
		{viewsRe, func(m *models.Metrics, v int) { m.Views = v }},
	}
)

// ParseMetricsLabel reads all four metrics out of one consolidated descriptor
// such as "12 replies, 3 reposts, 1,204 likes, 30K views". A metric that is
// not mentioned is 0.
func ParseMetricsLabel(label string) models.Metrics {
	var m models.Metrics
	for _, f := range labelFields {
		if match := f.re.FindStringSubmatch(label); match != nil {
			f.set(&m, Normalize(match[1]))
		}
	}
	return m
}
