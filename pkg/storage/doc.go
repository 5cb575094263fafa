// Package storage writes crawl output to disk.
//
// Exporter turns a models.Result into JSON, CSV or NDJSON files named
// <subject>_<posts|replies>_<timestamp>.<ext>, plus an optional combined
// all_data_<timestamp>.json. JSON and CSV files are written through a
// temporary file and renamed into place, so a crash never leaves a partial
// export behind.
//
// FileReporter receives records from crawl sessions as they are emitted and
// can stream them to an NDJSON file. Manager stores downloaded media files
// and remembers which ones already exist.
//
// Usage:
//
//	exporter, err := storage.NewExporter("output")
//	if err != nil {
//	    return err
//	}
//	paths, err := exporter.WriteResult(&result, storage.ExportOptions{
//	    Formats:  []string{"json", "csv"},
//	    Combined: true,
//	})
package storage
