package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"
)

// Out is where every helper in this package writes
var Out io.Writer = os.Stdout

const Banner = `
  ┌─┐┌─┐┌─┐┌┬┐┌─┐┬─┐┌─┐┬ ┬┬  ┌─┐┬─┐
  ├┤ ├┤ ├┤  │││  ├┬┘├─┤││││  ├┤ ├┬┘
  └  └─┘└─┘─┴┘└─┘┴└─┴ ┴└┴┘┴─┘└─┘┴└─
  live search feed crawler
`

var (
	Cyan    = colorize(text.FgCyan)
	Yellow  = colorize(text.FgYellow)
	Red     = colorize(text.FgRed)
	Green   = colorize(text.FgGreen)
	Magenta = colorize(text.FgMagenta)
	Dim     = colorize(text.Faint)
)

func colorize(c text.Color) func(string) string {
	return func(s string) string {
		return c.Sprint(s)
	}
}

// SetColor turns ANSI colors on or off for the whole process
func SetColor(enabled bool) {
	if enabled {
		text.EnableColors()
	} else {
		text.DisableColors()
	}
}

func PrintLogo() {
	fmt.Fprint(Out, Cyan(Banner))
}

// PrintError prints msg in red, followed by the first arg when given
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintln(Out, Red(withDetail(msg, args)))
}

func PrintSuccess(msg string) {
	fmt.Fprintln(Out, Green(msg))
}

func PrintInfo(label, value string) {
	fmt.Fprintf(Out, "%s: %s\n", Cyan(label), Yellow(value))
}

func PrintWarning(msg string, args ...interface{}) {
	fmt.Fprintln(Out, Yellow(withDetail(msg, args)))
}

func PrintHighlight(msg string) {
	fmt.Fprintln(Out, Magenta(msg))
}

func withDetail(msg string, args []interface{}) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, args[0])
}
