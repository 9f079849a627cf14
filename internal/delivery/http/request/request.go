package request

// ScrapeRequest submits a batch of URLs for scraping.
type ScrapeRequest struct {
	URLs         []string `json:"urls"`
	SaveToRemote bool     `json:"save_to_remote"`
}

// DeleteRequest removes records by identity URL.
type DeleteRequest struct {
	URLs []string `json:"urls"`
	Kind string   `json:"kind"` // "github" or "website"
}

// CleanRequest deduplicates a stored dataset.
type CleanRequest struct {
	Kind   string `json:"kind"`
	Source string `json:"source"` // "local", "remote", or "postgres"; defaults to local
}
