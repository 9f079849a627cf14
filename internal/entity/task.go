package entity

// TaskKind selects the extractor applied to a fetched page.
type TaskKind string

const (
	KindGitHub  TaskKind = "github"
	KindWebsite TaskKind = "website"
)

// IdentityField returns the dedup column for records of this kind.
func (k TaskKind) IdentityField() string {
	if k == KindGitHub {
		return FieldRepositoryURL
	}
	return FieldWebsiteURL
}

// ScrapeTask is one unit of work: a URL plus the kind of extraction to run.
// Created per input URL before dispatch and consumed once by a worker.
type ScrapeTask struct {
	URL  string
	Kind TaskKind
}

// FetchStatus is the terminal state of a fetch.
type FetchStatus string

const (
	FetchOK     FetchStatus = "ok"
	FetchFailed FetchStatus = "failed"
)

// FetchResult is the outcome of a single resilient fetch, produced once and
// never mutated.
type FetchResult struct {
	URL        string
	Status     FetchStatus
	Body       []byte
	HTTPStatus int
	Attempts   int
	Err        error
}

// URLError pairs a failed URL with its error message for batch reporting.
type URLError struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}
