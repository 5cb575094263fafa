package scraper_test

import (
	"fmt"

	"feedcrawler/pkg/scraper"
)

func ExampleSearchURL() {
	fmt.Println(scraper.SearchURL("", "TSLA", ""))
	fmt.Println(scraper.SearchURL("https://x.com/", "#bitcoin", "2024-01-01"))
	// Output:
	// https://x.com/search?q=%24TSLA&src=typed_query&f=live
	// https://x.com/search?q=%23bitcoin%20since%3A2024-01-01&src=typed_query&f=live
}
