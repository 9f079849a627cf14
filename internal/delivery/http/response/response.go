package response

// DataResponse returns a stored dataset as a header plus rows.
type DataResponse struct {
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
	Total   int                 `json:"total"`
}

// CleanResponse reports a deduplication pass.
type CleanResponse struct {
	Status  string `json:"status"`
	Removed int    `json:"removed"`
}
