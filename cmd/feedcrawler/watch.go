package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/logger"
	"feedcrawler/pkg/scraper"
	"feedcrawler/pkg/ui"
)

var watchSchedule string

var watchCmd = &cobra.Command{
	Use:   "watch <subject>...",
	Short: "Crawl subjects on a schedule",
	Long: `Keep a browser open and crawl every subject on a cron schedule.

The schedule accepts the standard five-field cron format as well as the
descriptors @hourly, @daily and @every <duration>. Subjects are crawled one
after another on each tick; a tick that is still running when the next one is
due is skipped. A run stopped by a challenge page is resumed on the next tick.`,
	Example: `  feedcrawler watch TSLA NVDA --schedule "@every 30m"
  feedcrawler watch '#bitcoin' --schedule "0 */2 * * *" --replies`,
	Args: cobra.MinimumNArgs(1),
	Run:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@every 30m", "cron schedule")
	watchCmd.Flags().IntVarP(&maxRecords, "max", "m", 0, "maximum number of posts per run")
	watchCmd.Flags().BoolVarP(&withReplies, "replies", "r", false, "also crawl reply threads")
	watchCmd.Flags().IntVar(&maxReplies, "max-replies", 0, "maximum replies per thread")
	watchCmd.Flags().IntVar(&replyThreads, "threads", 0, "number of posts whose replies are crawled")
	watchCmd.Flags().BoolVar(&publish, "publish", false, "publish records to the Redis record stream")
	addBrowserFlags(watchCmd)
}

// cronLogger adapts the global logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) fields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.DebugWithFields("cron: "+msg, l.fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).ErrorWithFields("cron: "+msg, l.fields(keysAndValues))
}

// newScheduler returns a cron scheduler whose ticks never overlap
func newScheduler(log logger.Logger) *cron.Cron {
	cl := cronLogger{log: log}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

func runWatch(cmd *cobra.Command, args []string) {
	subjects := make([]string, 0, len(args))
	for _, a := range args {
		if s := strings.TrimSpace(a); s != "" {
			subjects = append(subjects, s)
		}
	}

	cfg, err := loadConfig(cmd, crawlFlags(cmd))
	exitOnError("Failed to load configuration", err)
	log := logger.GetLogger()

	ctx, stop := signalContext()
	defer stop()

	account, err := resolveAccount(accountName)
	exitOnError("No usable session", err)

	out, err := newSinks(ctx, cfg, newRunID(), publish)
	exitOnError("Failed to set up outputs", err)
	defer out.Close()

	driver, err := launchDriver(ctx, cfg, account)
	exitOnError("Failed to start browser", err)
	defer driver.Close()

	// a rejected session ends the watch; later ticks would fail the same way
	fatal := make(chan error, 1)
	tick := func() {
		for _, subject := range subjects {
			if ctx.Err() != nil {
				return
			}
			s := scraper.New(cfg, driver, runOptions(newRunID(), out)...)
			started := time.Now()
			report, err := s.Run(ctx, scraper.RunOptions{Subject: subject, Replies: withReplies, Resume: true})
			if err != nil {
				log.WithError(err).WithField("subject", subject).Error("watch run failed")
				continue
			}
			ui.PrintInfo(subject, fmt.Sprintf("%d posts, %d replies in %s",
				len(report.Result.Posts), len(report.Result.Replies), ui.FormatDuration(time.Since(started))))

			if err := report.Err(); err != nil {
				ui.PrintWarning(subject+" stopped early", err)
				if errs.TypeOf(err) == errs.ErrorTypeAuthenticationRequired {
					select {
					case fatal <- err:
					default:
					}
					return
				}
			}
		}
	}

	scheduler := newScheduler(log)
	if _, err := scheduler.AddFunc(watchSchedule, tick); err != nil {
		exitOnError("Invalid schedule", err)
	}
	scheduler.Start()
	defer func() {
		<-scheduler.Stop().Done()
	}()

	ui.PrintHighlight("[WATCH STARTED]")
	ui.PrintInfo("Schedule", watchSchedule)
	ui.PrintInfo("Subjects", strings.Join(subjects, ", "))
	if entries := scheduler.Entries(); len(entries) > 0 {
		ui.PrintInfo("Next run", entries[0].Next.Format(time.DateTime))
	}

	select {
	case <-ctx.Done():
		ui.PrintSuccess("[WATCH STOPPED]")
	case err := <-fatal:
		<-scheduler.Stop().Done()
		driver.Close()
		out.Close()
		exitOnError("Session rejected, stopping watch", err)
	}
}
