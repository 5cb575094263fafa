package ui

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	errs "feedcrawler/pkg/errors"
	"feedcrawler/pkg/models"
)

// NotificationSender delivers one desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

type linuxSender struct{}

func (linuxSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

type macSender struct{}

func (macSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

type windowsSender struct{}

func (windowsSender) Send(title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		$tpl = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
		$txt = $tpl.GetElementsByTagName("text")
		$txt.Item(0).AppendChild($tpl.CreateTextNode('%s')) | Out-Null
		$txt.Item(1).AppendChild($tpl.CreateTextNode('%s')) | Out-Null
		$toast = [Windows.UI.Notifications.ToastNotification]::new($tpl)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("feedcrawler").Show($toast)
	`, psQuote(title), psQuote(message))
	return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", script).Run()
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Notifier prints notices to the terminal and mirrors them to the desktop
type Notifier struct {
	sender NotificationSender
}

// NewNotifier picks the sender for the current platform. desktop=false keeps
// notices in the terminal only.
func NewNotifier(desktop bool) *Notifier {
	if !desktop {
		return &Notifier{}
	}
	switch runtime.GOOS {
	case "linux":
		return &Notifier{sender: linuxSender{}}
	case "darwin":
		return &Notifier{sender: macSender{}}
	case "windows":
		return &Notifier{sender: windowsSender{}}
	}
	return &Notifier{}
}

// NewNotifierWithSender uses sender for desktop delivery
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

// Send prints and delivers a neutral notice. Delivery errors are ignored.
func (n *Notifier) Send(title, message string) {
	fmt.Fprintf(Out, "\n%s: %s\n", Cyan(title), Yellow(message))
	n.deliver(title, message)
}

func (n *Notifier) SendError(title, message string) {
	fmt.Fprintf(Out, "\n%s: %s\n", Red(title), Red(message))
	n.deliver(title, message)
}

func (n *Notifier) SendSuccess(title, message string) {
	fmt.Fprintf(Out, "\n%s: %s\n", Green(title), Green(message))
	n.deliver(title, message)
}

func (n *Notifier) deliver(title, message string) {
	if n.sender != nil {
		_ = n.sender.Send(title, message)
	}
}

// NotifyReporter turns session results into notifications. It never fails,
// so it can sit in a reporter tee without masking other sinks.
type NotifyReporter struct {
	Notifier    *Notifier
	OnChallenge bool
	OnComplete  bool
	OnFailure   bool
}

func (r *NotifyReporter) Emit(_ context.Context, target models.CrawlTarget, records []models.Record) error {
	if r.OnComplete && target.Kind == models.KindPost {
		r.Notifier.SendSuccess("Crawl finished", fmt.Sprintf("%d posts collected for %s", len(records), target.Subject))
	}
	return nil
}

func (r *NotifyReporter) ReportFailure(_ context.Context, target models.CrawlTarget, classification errs.ErrorType, message string) error {
	if r.OnFailure {
		r.Notifier.SendError("Crawl failed", fmt.Sprintf("%s (%s): %s", target.Subject, classification, message))
	}
	return nil
}

func (r *NotifyReporter) ReportManualInterventionNeeded(_ context.Context, target models.CrawlTarget, reason string) error {
	if r.OnChallenge {
		r.Notifier.SendError("Manual intervention needed", fmt.Sprintf("%s is blocked by a challenge: %s", target.Subject, reason))
	}
	return nil
}
