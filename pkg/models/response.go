package models

// DisplayType selects how the client renders the final result.
type DisplayType string

// Display types.
const (
	DisplayTable    DisplayType = "table"
	DisplayMarkdown DisplayType = "markdown"
)

// TableHeader describes one column of a table result.
type TableHeader struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Sortable bool   `json:"sortable,omitempty"`
	Align    string `json:"align,omitempty"`
}

// ResponseMetadata carries display hints alongside the result content.
type ResponseMetadata struct {
	Headers      []TableHeader `json:"headers,omitempty"`
	TotalRecords int           `json:"total_records"`
}

// FormattedResponse is the final payload shape produced by the result
// formatter (and by generated formatting scripts).
type FormattedResponse struct {
	DisplayType DisplayType      `json:"display_type"`
	Content     any              `json:"content"`
	Metadata    ResponseMetadata `json:"metadata"`
}
