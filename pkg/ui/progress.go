package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"feedcrawler/pkg/models"
)

const (
	barFilled = "━"
	barEmpty  = "─"
	barWidth  = 20
)

// Progress draws a one-line status for the running crawl. It satisfies the
// crawler's observer interface so it can be plugged in next to metrics.
type Progress struct {
	mu      sync.Mutex
	subject string
	max     map[models.RecordKind]int
	counts  map[models.RecordKind]int
	passes  int
	skipped int
	threads int
	start   time.Time
	quiet   bool
}

// NewProgress creates a display for subject. maxPosts sizes the bar; quiet
// collects counts without drawing.
func NewProgress(subject string, maxPosts int, quiet bool) *Progress {
	return &Progress{
		subject: subject,
		max:     map[models.RecordKind]int{models.KindPost: maxPosts},
		counts:  make(map[models.RecordKind]int),
		start:   time.Now(),
		quiet:   quiet,
	}
}

func (p *Progress) ObservePass(models.RecordKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.passes++
	p.draw()
}

func (p *Progress) ObserveRecords(kind models.RecordKind, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[kind] += n
	p.draw()
}

func (p *Progress) ObserveSkip(models.RecordKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipped++
}

func (p *Progress) ObserveOutcome(kind models.RecordKind, state, classification string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kind == models.KindReply {
		p.threads++
	}
	if classification != "" && !p.quiet {
		fmt.Fprintf(Out, "\n%s %s session %s: %s\n", Yellow("!"), kind, state, classification)
	}
	p.draw()
}

// Count returns the records observed for kind
func (p *Progress) Count(kind models.RecordKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[kind]
}

func (p *Progress) line() string {
	posts := p.counts[models.KindPost]
	max := p.max[models.KindPost]

	filled := 0
	if max > 0 {
		filled = min(barWidth, posts*barWidth/max)
	}
	bar := strings.Repeat(barFilled, filled) + strings.Repeat(barEmpty, barWidth-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %d/%d posts", Cyan(p.subject), bar, posts, max)
	if replies := p.counts[models.KindReply]; replies > 0 || p.threads > 0 {
		fmt.Fprintf(&b, " • %d replies in %d threads", replies, p.threads)
	}
	fmt.Fprintf(&b, " • %d passes • %s", p.passes, FormatDuration(time.Since(p.start)))
	if p.skipped > 0 {
		fmt.Fprintf(&b, " • %s", Dim(fmt.Sprintf("%d skipped", p.skipped)))
	}
	return b.String()
}

func (p *Progress) draw() {
	if p.quiet {
		return
	}
	fmt.Fprintf(Out, "\r%s\r%s", strings.Repeat(" ", 120), p.line())
}

// Finish ends the progress line
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.quiet {
		fmt.Fprintln(Out)
	}
}

// FormatDuration renders d as 42s, 3m07s or 2h05m
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// FormatBytes renders n with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
