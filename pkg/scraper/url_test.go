package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		subject string
		since   string
		want    string
	}{
		{"bare ticker", "", "TSLA", "", "https://x.com/search?q=%24TSLA&src=typed_query&f=live"},
		{"cashtag kept", "", "$AAPL", "", "https://x.com/search?q=%24AAPL&src=typed_query&f=live"},
		{"hashtag", "", "#btc", "", "https://x.com/search?q=%23btc&src=typed_query&f=live"},
		{"since date", "", "TSLA", "2024-03-01", "https://x.com/search?q=%24TSLA%20since%3A2024-03-01&src=typed_query&f=live"},
		{"custom base", "http://127.0.0.1:8080/", " NVDA ", "", "http://127.0.0.1:8080/search?q=%24NVDA&src=typed_query&f=live"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SearchURL(tt.base, tt.subject, tt.since))
		})
	}
}

func TestIsAuthRedirect(t *testing.T) {
	search := "https://x.com/search?q=%24TSLA&f=live"
	tests := []struct {
		current string
		target  string
		want    bool
	}{
		{"https://x.com/i/flow/login", search, true},
		{"https://x.com/login?redirect_after_login=%2Fsearch", search, true},
		{"https://x.com/logout", search, true},
		{"https://x.com/home", search, true},
		{"https://x.com/", search, true},
		{"https://x.com/home", "https://x.com/home", false},
		{"https://x.com/search?q=%24TSLA&f=live", search, false},
		{"https://x.com/alice/status/1", "https://x.com/alice/status/1", false},
		{"https://x.com/loginhelp", search, false},
		{"", search, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isAuthRedirect(tt.current, tt.target), tt.current)
	}
}

func TestIsChallengeURL(t *testing.T) {
	assert.True(t, isChallengeURL("https://x.com/account/access"))
	assert.True(t, isChallengeURL("https://x.com/account/access?lang=en"))
	assert.False(t, isChallengeURL("https://x.com/account/settings"))
	assert.False(t, isChallengeURL("::"))
}

func TestRecordSubject(t *testing.T) {
	assert.Equal(t, "TSLA", recordSubject(" $TSLA "))
	assert.Equal(t, "btc", recordSubject("#btc"))
}
