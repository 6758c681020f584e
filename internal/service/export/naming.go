package export

import (
	"net/url"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/jgivc/emogoexport/internal/entity"
)

const (
	mediaDir         = "media/"
	defaultExtension = ".mp4"
	fallbackPrefix   = "media_"
	timeSuffixLayout = "2006-01-02T15-04-05"
)

// ResolveName builds the archive file name for the media of rec. The ordinal
// is the 1-based position of rec in the export. The result is deterministic
// for the same inputs and never contains path separators.
func ResolveName(rec *entity.Record, ordinal int) string {
	base := ""
	if ref, ok := rec.MediaReference(); ok {
		base = sanitize(lastSegment(ref))
	}

	if base == "" || base == "." || base == ".." {
		base = fallbackPrefix + strconv.Itoa(ordinal)
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "." || ext == "" || stem == "" {
		stem = strings.TrimRight(base, ".")
		ext = defaultExtension
	}
	if stem == "" {
		stem = fallbackPrefix + strconv.Itoa(ordinal)
	}

	suffix := strconv.Itoa(ordinal)
	if t, ok := rec.Time(); ok {
		suffix = t.UTC().Format(timeSuffixLayout)
	}

	return stem + "_" + suffix + ext
}

// lastSegment returns the final path segment of ref, ignoring query and
// fragment.
func lastSegment(ref string) string {
	if u, err := url.Parse(ref); err == nil {
		escaped := u.EscapedPath()
		seg := escaped[strings.LastIndex(escaped, "/")+1:]
		if s, err := url.PathUnescape(seg); err == nil {
			return s
		}

		return seg
	}

	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}

	return ref[strings.LastIndex(ref, "/")+1:]
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}

		return r
	}, strings.TrimSpace(name))
}

// nameSet hands out archive-unique names.
type nameSet map[string]struct{}

// claim returns name if it is free. Otherwise it tries the ordinal, then the
// record id and finally an increasing counter.
func (s nameSet) claim(name string, rec *entity.Record, ordinal int) string {
	if s.take(name) {
		return name
	}

	if candidate := withSuffix(name, strconv.Itoa(ordinal)); s.take(candidate) {
		return candidate
	}

	if id := sanitize(rec.ID); id != "" {
		if candidate := withSuffix(name, id); s.take(candidate) {
			return candidate
		}
	}

	for n := 2; ; n++ {
		if candidate := withSuffix(name, strconv.Itoa(ordinal)+"_"+strconv.Itoa(n)); s.take(candidate) {
			return candidate
		}
	}
}

func (s nameSet) take(name string) bool {
	if _, exists := s[name]; exists {
		return false
	}
	s[name] = struct{}{}

	return true
}

func withSuffix(name, suffix string) string {
	ext := path.Ext(name)

	return strings.TrimSuffix(name, ext) + "_" + suffix + ext
}
