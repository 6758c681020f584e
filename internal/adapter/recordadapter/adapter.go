package recordadapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jgivc/emogoexport/internal/common"
	"github.com/jgivc/emogoexport/internal/entity"
)

var (
	mediaKeys     = []string{"mediaUrl", "media_url", "video_url", "audio_url", "url"}
	scoreKeys     = []string{"score", "sentiment", "value", "polarity"}
	textKeys      = []string{"text", "note", "comment"}
	timestampKeys = []string{"timestamp", "time"}
	userKeys      = []string{"userId", "user_id"}

	// Pairs are tried in order; the first pair with both values numeric wins.
	coordinatePairs = [][2]string{
		{"latitude", "longitude"},
		{"lat", "lon"},
		{"lat", "lng"},
	}
)

const (
	keyID       = "_id"
	keyCoords   = "coords"
	keyLocation = "location"
)

type recordAdapter struct {
	validate *validator.Validate
	now      func() time.Time
}

func NewRecordAdapter(validate *validator.Validate) *recordAdapter {
	return &recordAdapter{
		validate: validate,
		now:      time.Now,
	}
}

// ToRecord turns a client document into a typed record. Known keys are
// consumed once here, everything else is kept in Attributes.
func (a *recordAdapter) ToRecord(category entity.Category, doc map[string]any) (*entity.Record, error) {
	return a.toRecord(category, doc, false)
}

// FromStored reads a document as found in the store. Documents written by
// other clients use the same candidate keys as ingest. Nothing is validated
// and a missing timestamp stays empty.
func (a *recordAdapter) FromStored(category entity.Category, doc map[string]any) (*entity.Record, error) {
	return a.toRecord(category, doc, true)
}

func (a *recordAdapter) toRecord(category entity.Category, doc map[string]any, stored bool) (*entity.Record, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: empty document", common.ErrInvalidRecord)
	}

	rest := make(map[string]any, len(doc))
	for k, v := range doc {
		rest[k] = v
	}
	delete(rest, keyID)

	rec := &entity.Record{
		Category: category,
	}

	ts, err := takeTimestamp(rest)
	if err != nil {
		return nil, err
	}
	if ts == "" && !stored {
		ts = a.now().UTC().Format(time.RFC3339)
	}
	rec.Timestamp = ts

	if user, ok := takeString(rest, userKeys); ok {
		rec.UserID = user
	}

	switch category {
	case entity.CategoryVlogs:
		url, _ := takeString(rest, mediaKeys)
		rec.Vlog = &entity.VlogPayload{MediaURL: url}
		if err := a.check(stored, rec.Vlog); err != nil {
			return nil, fmt.Errorf("%w: media url: %w", common.ErrInvalidRecord, err)
		}
	case entity.CategorySentiments:
		rec.Sentiment = &entity.SentimentPayload{}
		if score, ok := takeNumber(rest, scoreKeys...); ok {
			rec.Sentiment.Score = &score
		}
		if text, ok := takeString(rest, textKeys); ok {
			rec.Sentiment.Text = text
		}
	case entity.CategoryGPS:
		rec.GPS = takeCoordinates(rest)
		if err := a.check(stored, rec.GPS); err != nil {
			return nil, fmt.Errorf("%w: coordinates: %w", common.ErrInvalidRecord, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownCategory, category)
	}

	if len(rest) > 0 {
		rec.Attributes = rest
	}

	return rec, nil
}

func (a *recordAdapter) check(stored bool, payload any) error {
	if stored {
		return nil
	}

	return a.validate.Struct(payload)
}

func takeTimestamp(doc map[string]any) (string, error) {
	for _, key := range timestampKeys {
		v, exists := doc[key]
		if !exists || v == nil {
			continue
		}

		delete(doc, key)

		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t), nil
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case int32:
			return strconv.FormatInt(int64(t), 10), nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		case json.Number:
			return t.String(), nil
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), nil
		default:
			return "", fmt.Errorf("%w: %s has unsupported type %T", common.ErrInvalidRecord, key, v)
		}
	}

	return "", nil
}

func takeString(doc map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		s, ok := doc[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}

		delete(doc, key)

		return strings.TrimSpace(s), true
	}

	return "", false
}

func takeNumber(doc map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if n, ok := toFloat(doc[key]); ok {
			delete(doc, key)

			return n, true
		}
	}

	return 0, false
}

func takeCoordinates(doc map[string]any) *entity.GPSPayload {
	for _, pair := range coordinatePairs {
		lat, latOK := toFloat(doc[pair[0]])
		lng, lngOK := toFloat(doc[pair[1]])
		if latOK && lngOK {
			delete(doc, pair[0])
			delete(doc, pair[1])

			return &entity.GPSPayload{Latitude: &lat, Longitude: &lng}
		}
	}

	if coords, ok := doc[keyCoords].([]any); ok && len(coords) >= 2 {
		lat, latOK := toFloat(coords[0])
		lng, lngOK := toFloat(coords[1])
		if latOK && lngOK {
			delete(doc, keyCoords)

			return &entity.GPSPayload{Latitude: &lat, Longitude: &lng}
		}
	}

	if loc, ok := doc[keyLocation].(map[string]any); ok {
		lat, latOK := toFloat(loc["latitude"])
		lng, lngOK := toFloat(loc["longitude"])
		if latOK && lngOK {
			delete(doc, keyLocation)

			return &entity.GPSPayload{Latitude: &lat, Longitude: &lng}
		}
	}

	return &entity.GPSPayload{}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}

	return 0, false
}
