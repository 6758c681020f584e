package entity

import "time"

const (
	ExportFormatJSON = "json"
	ExportFormatZip  = "zip"
)

// ExportCompleted is published after an export has been produced.
type ExportCompleted struct {
	ID       string    `json:"id"`
	Category Category  `json:"category"`
	Format   string    `json:"format"`
	Records  int       `json:"records"`
	Fetched  int       `json:"fetched,omitempty"`
	Failed   int       `json:"failed,omitempty"`
	Skipped  int       `json:"skipped,omitempty"`
	Size     int64     `json:"size,omitempty"`
	At       time.Time `json:"at"`
}

// RecordsCreated is published after records have been written.
type RecordsCreated struct {
	Category Category  `json:"category"`
	IDs      []string  `json:"ids"`
	At       time.Time `json:"at"`
}
