// Package keys derives the Redis key for every cacheable operation. Key
// derivation is pure: the same logical request always maps to the same key.
package keys

import (
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const geoIndexKey = "poi:geo"

// Weather returns the fresh-cache key for a city. The normalized city text
// is sanitized for key use and suffixed with its hash so sanitization can
// never collapse two different cities onto one key.
func Weather(city string) string {
	norm := normalizeCity(city)
	return fmt.Sprintf("weather:v1:city:%s:f=%016x", sanitizeForKey(norm), xxhash.Sum64String(norm))
}

// WeatherStale returns the long-TTL fallback key for a city.
func WeatherStale(city string) string {
	norm := normalizeCity(city)
	return fmt.Sprintf("weather:v1:stale:%s:f=%016x", sanitizeForKey(norm), xxhash.Sum64String(norm))
}

// Lock returns the dogpile lock key guarding a cache key.
func Lock(key string) string {
	return "__lock__:" + key
}

// Quantize snaps a coordinate onto the configured grid, rounded to six
// decimal places.
func Quantize(v, step float64) float64 {
	q := math.Round(v/step) * step
	return math.Round(q*1e6) / 1e6
}

// Nearby returns the cache key for a proximity query. Latitude and longitude
// are quantized; radius, limit, and filters select disjoint result sets and
// are included verbatim.
func Nearby(lat, lon, radiusKM float64, limit int, category, tag string, step float64) string {
	filterText := category + "|" + tag
	return fmt.Sprintf("poi:cache:nearby:%.6f,%.6f:%.2f:%d:%s:%s:f=%016x",
		Quantize(lat, step), Quantize(lon, step),
		radiusKM, limit,
		orPlaceholder(category), orPlaceholder(tag),
		xxhash.Sum64String(filterText))
}

// POI returns the hash-record key for an id.
func POI(id string) string {
	return "poi:" + id
}

// Category returns the membership-set key for a category.
func Category(c string) string {
	return "poi:cat:" + c
}

// Tag returns the membership-set key for a tag.
func Tag(t string) string {
	return "poi:tag:" + t
}

// GeoIndex returns the key of the geospatial index.
func GeoIndex() string {
	return geoIndexKey
}

func orPlaceholder(s string) string {
	if s == "" {
		return "_"
	}
	return sanitizeForKey(s)
}

func normalizeCity(s string) string {
	return strings.ToLower(collapseASCIIWhitespace(strings.TrimSpace(s)))
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case isASCIIWhitespace(r):
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIIWhitespace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIIWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
