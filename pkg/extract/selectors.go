package extract

// Selectors are the CSS selectors used to locate post fields inside a rendered
// post element. The defaults match the X (Twitter) web client.
type Selectors struct {
	Post         string   `yaml:"post" json:"post"`
	UserName     string   `yaml:"user_name" json:"user_name"`
	UserNamePart string   `yaml:"user_name_part" json:"user_name_part"`
	Text         string   `yaml:"text" json:"text"`
	Time         string   `yaml:"time" json:"time"`
	MetricsGroup string   `yaml:"metrics_group" json:"metrics_group"`
	Reply        string   `yaml:"reply" json:"reply"`
	Repost       string   `yaml:"repost" json:"repost"`
	Like         string   `yaml:"like" json:"like"`
	Views        string   `yaml:"views" json:"views"`
	Permalink    string   `yaml:"permalink" json:"permalink"`
	Image        string   `yaml:"image" json:"image"`
	Video        string   `yaml:"video" json:"video"`
	VideoSource  string   `yaml:"video_source" json:"video_source"`
	VideoPlayer  string   `yaml:"video_player" json:"video_player"`
	Challenge    []string `yaml:"challenge" json:"challenge"`
}

// DefaultSelectors returns selectors for the current X markup
func DefaultSelectors() Selectors {
	return Selectors{
		Post:         "article[data-testid='tweet']",
		UserName:     "div[data-testid='User-Name']",
		UserNamePart: "div[data-testid='User-Name'] span",
		Text:         "div[data-testid='tweetText']",
		Time:         "time",
		MetricsGroup: "div[role='group'][aria-label]",
		Reply:        "[data-testid='reply']",
		Repost:       "[data-testid='retweet']",
		Like:         "[data-testid='like']",
		Views:        "a[href*='/analytics']",
		Permalink:    "a[href*='/status/']",
		Image:        "img[src*='pbs.twimg.com/media']",
		Video:        "video[src]",
		VideoSource:  "video source[src]",
		VideoPlayer:  "div[data-testid='videoPlayer']",
		Challenge: []string{
			"iframe[src*='captcha']",
			"iframe[src*='arkoselabs']",
			"#arkose_iframe",
			"[data-testid='ocfEnterTextTextInput']",
			"form[action*='account/access']",
		},
	}
}
