package entity

// MediaStatus is the per-record status written to manifest.json.
type MediaStatus string

const (
	MediaStatusPending MediaStatus = "pending"
	MediaStatusFetched MediaStatus = "fetched"
	MediaStatusSkipped MediaStatus = "skipped"

	mediaStatusFailedPrefix = "failed:"
)

func MediaStatusFailed(reason FailureReason) MediaStatus {
	return MediaStatus(mediaStatusFailedPrefix + string(reason))
}

// ManifestEntry describes one record considered by a bundle export. File is
// the archive entry name and is only set for fetched media.
type ManifestEntry struct {
	Category    Category    `json:"category"`
	ID          string      `json:"id"`
	Timestamp   string      `json:"timestamp"`
	UserID      string      `json:"userId"`
	MediaStatus MediaStatus `json:"mediaStatus"`
	File        string      `json:"file,omitempty"`
}
