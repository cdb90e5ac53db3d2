package pipeline

import "fmt"

// Status represents the current progress of an ingest run.
type Status struct {
	Stage        string // "fetching", "processing", "pruning", "done", "error"
	Total        int
	Done         int
	Skipped      int
	Errors       int
	Pruned       int
	FailuresPath string
}

// ArticleError wraps a failure caused by the content of a single article
// (bad slug, undecodable body, transform error) so callers can record it
// and carry on with the rest of the run.
type ArticleError struct {
	Slug string
	Err  error
}

func (e *ArticleError) Error() string { return fmt.Sprintf("article %s: %v", e.Slug, e.Err) }
func (e *ArticleError) Unwrap() error { return e.Err }
