// Package scraper crawls an infinitely scrolling post feed through a
// browser page.
//
// A Session drives one target (a search feed or a reply thread) over a
// PageDriver: it navigates, waits for posts to render, extracts every
// rendered post, scrolls for more and stops when the record limit is
// reached or the feed stops growing. Each session reports its result once
// through a Reporter.
//
// A Crawler runs sessions one after another over a shared page, optionally
// following the reply threads of the first feed posts. A Scraper wraps a
// Crawler with checkpointing, export and media download.
//
// Usage:
//
//	driver, err := rodpage.Launch(ctx, cfg.Browser, account)
//	if err != nil {
//	    return err
//	}
//	defer driver.Close()
//
//	s := scraper.New(cfg, driver)
//	report, err := s.Run(ctx, scraper.RunOptions{Subject: "TSLA", Replies: true})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(len(report.Result.Posts), "posts")
//
// Failures are classified with the types in pkg/errors. A challenge page
// or a login redirect ends the whole run; a thread that fails to load only
// ends its own session.
package scraper
