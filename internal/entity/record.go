package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jgivc/emogoexport/internal/common"
)

// Category names one of the record collections.
type Category string

const (
	CategoryVlogs      Category = "vlogs"
	CategorySentiments Category = "sentiments"
	CategoryGPS        Category = "gps"
)

var categories = []Category{CategoryVlogs, CategorySentiments, CategoryGPS}

// Categories returns the allowed categories in a stable order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)

	return out
}

func ParseCategory(s string) (Category, error) {
	for _, c := range categories {
		if string(c) == s {
			return c, nil
		}
	}

	return "", fmt.Errorf("%w: %q", common.ErrUnknownCategory, s)
}

func (c Category) String() string {
	return string(c)
}

// Record is one stored item. Exactly one of Vlog, Sentiment or GPS is set,
// matching Category.
type Record struct {
	ID        string            `json:"id"`
	Category  Category          `json:"category"`
	Timestamp string            `json:"timestamp"`
	UserID    string            `json:"userId,omitempty"`
	Vlog      *VlogPayload      `json:"vlog,omitempty"`
	Sentiment *SentimentPayload `json:"sentiment,omitempty"`
	GPS       *GPSPayload       `json:"gps,omitempty"`
	// Attributes keeps client supplied keys that are not part of the payload.
	Attributes map[string]any `json:"attributes,omitempty"`
}

type VlogPayload struct {
	MediaURL string `json:"mediaUrl,omitempty" validate:"omitempty,url"`
}

type SentimentPayload struct {
	Score *float64 `json:"score,omitempty"`
	Text  string   `json:"text,omitempty"`
}

type GPSPayload struct {
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// MediaReference returns the trimmed media URL of a vlog record. Empty or
// whitespace-only values mean there is nothing to fetch.
func (r *Record) MediaReference() (string, bool) {
	if r == nil || r.Vlog == nil {
		return "", false
	}

	url := strings.TrimSpace(r.Vlog.MediaURL)

	return url, url != ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses Timestamp. Numeric values are treated as unix seconds, or
// milliseconds when they are too large to be seconds.
func (r *Record) Time() (time.Time, bool) {
	if r == nil {
		return time.Time{}, false
	}

	ts := strings.TrimSpace(r.Timestamp)
	if ts == "" {
		return time.Time{}, false
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), true
		}
	}

	if n, err := strconv.ParseInt(ts, 10, 64); err == nil && n > 0 {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), true
		}

		return time.Unix(n, 0).UTC(), true
	}

	return time.Time{}, false
}
