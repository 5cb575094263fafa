package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"feedcrawler/pkg/models"
)

// Export formats
const (
	FormatJSON   = "json"
	FormatCSV    = "csv"
	FormatNDJSON = "ndjson"
)

// CSVHeader is the column order of CSV exports
var CSVHeader = []string{
	"type", "ticker", "user_name", "post_date", "content",
	"comment", "retweet", "like", "view", "permalink", "media",
}

// utf8BOM lets spreadsheet tools detect the encoding of CSV exports
const utf8BOM = "\ufeff"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ExportOptions controls how a Result is written
type ExportOptions struct {
	Formats []string
	// Combined also writes every record into one all_data JSON file
	Combined bool
	// DropPermalink blanks the permalink of every exported record
	DropPermalink bool
}

// Exporter writes crawl results into a directory
type Exporter struct {
	dir string
	now func() time.Time
}

// NewExporter creates dir if needed and returns an Exporter writing into it
func NewExporter(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &Exporter{dir: dir, now: time.Now}, nil
}

// Dir returns the export directory
func (e *Exporter) Dir() string {
	return e.dir
}

// WriteResult writes posts and replies in every requested format and returns
// the paths written
func (e *Exporter) WriteResult(result *models.Result, opts ExportOptions) ([]string, error) {
	stamp := e.now().Format("20060102_150405")
	subject := unsafeFileChars.ReplaceAllString(strings.TrimLeft(result.Subject, "$#"), "_")
	if subject == "" {
		subject = "feed"
	}

	posts := prepare(result.Posts, opts.DropPermalink)
	replies := prepare(result.Replies, opts.DropPermalink)

	var paths []string
	var errs []error
	write := func(name string, fn func(string) error) {
		path := filepath.Join(e.dir, name)
		if err := fn(path); err != nil {
			errs = append(errs, err)
			return
		}
		paths = append(paths, path)
	}

	for _, format := range opts.Formats {
		format = strings.ToLower(format)
		switch format {
		case FormatJSON, FormatCSV, FormatNDJSON:
		default:
			errs = append(errs, fmt.Errorf("unknown export format %q", format))
			continue
		}
		for _, part := range []struct {
			name    string
			records []models.Record
		}{
			{"posts", posts},
			{"replies", replies},
		} {
			if len(part.records) == 0 {
				continue
			}
			name := fmt.Sprintf("%s_%s_%s.%s", subject, part.name, stamp, format)
			records := part.records
			switch format {
			case FormatJSON:
				write(name, func(p string) error { return WriteJSON(p, records) })
			case FormatCSV:
				write(name, func(p string) error { return WriteCSV(p, records) })
			case FormatNDJSON:
				write(name, func(p string) error { return AppendNDJSON(p, records) })
			}
		}
	}

	if opts.Combined {
		all := append(append([]models.Record{}, posts...), replies...)
		write(fmt.Sprintf("all_data_%s.json", stamp), func(p string) error { return WriteJSON(p, all) })
	}

	return paths, errors.Join(errs...)
}

func prepare(records []models.Record, dropPermalink bool) []models.Record {
	if !dropPermalink {
		return records
	}
	out := make([]models.Record, len(records))
	copy(out, records)
	for i := range out {
		out[i].Permalink = ""
	}
	return out
}

// WriteJSON writes records as an indented JSON array, atomically
func WriteJSON(path string, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
}

// WriteCSV writes records with CSVHeader columns, atomically
func WriteCSV(path string, records []models.Record) error {
	return writeAtomic(path, func(w io.Writer) error {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return err
		}
		cw := csv.NewWriter(w)
		if err := cw.Write(CSVHeader); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write(csvRow(r)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

func csvRow(r models.Record) []string {
	media := make([]string, 0, len(r.MediaRefs))
	for _, m := range r.MediaRefs {
		media = append(media, m.URL)
	}
	return []string{
		string(r.Kind),
		r.Subject,
		r.Author,
		r.PostedAt,
		r.Content,
		strconv.Itoa(r.Metrics.Comments),
		strconv.Itoa(r.Metrics.Reposts),
		strconv.Itoa(r.Metrics.Likes),
		strconv.Itoa(r.Metrics.Views),
		r.Permalink,
		strings.Join(media, "|"),
	}
}

// AppendNDJSON appends one JSON document per record to path
func AppendNDJSON(path string, records []models.Record) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to append record: %w", err)
		}
	}
	return nil
}
