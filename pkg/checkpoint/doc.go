// Package checkpoint persists per-subject crawl progress so an interrupted
// run can resume without re-emitting records.
//
// A checkpoint holds the identity keys of every record already written and
// the reply threads that were fully crawled. It is saved atomically to
// $XDG_DATA_HOME/feedcrawler/checkpoints/<subject>.checkpoint.json. Resuming
// is best effort: records are still deduplicated in memory, the checkpoint
// only seeds that set.
package checkpoint
