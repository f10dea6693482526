package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

func TestWeatherKey_Determinism(t *testing.T) {
	k1 := Weather("San Jose")
	k2 := Weather("San Jose")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestWeatherKey_NormalizationCollapsesVariants(t *testing.T) {
	k1 := Weather("  San   Jose ")
	k2 := Weather("san jose")
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !strings.HasPrefix(k1, "weather:v1:city:") {
		t.Fatalf("unexpected prefix: %s", k1)
	}
}

func TestWeatherKey_DistinctCitiesDistinctKeys(t *testing.T) {
	if Weather("Paris") == Weather("Porto") {
		t.Fatalf("different cities must produce different keys")
	}
	// sanitization maps both to the same safe text; the hash suffix must
	// still keep them apart
	if Weather("a&b") == Weather("a%b") {
		t.Fatalf("hash suffix failed to disambiguate sanitized collisions")
	}
}

func TestWeatherKey_UnicodeSafety(t *testing.T) {
	k := Weather("Göteborg 雪")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k); len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}
}

func TestStaleKey_DiffersFromFreshKey(t *testing.T) {
	if Weather("Lima") == WeatherStale("Lima") {
		t.Fatalf("stale and fresh keys must differ")
	}
}

func TestQuantize(t *testing.T) {
	step := 0.0005
	if got := Quantize(37.33840, step); got != 37.3385 {
		t.Fatalf("Quantize(37.33840)=%v want 37.3385", got)
	}
	if Quantize(37.33840, step) != Quantize(37.33845, step) {
		t.Fatalf("points in the same cell must quantize identically")
	}
	if Quantize(37.33840, step) == Quantize(37.33900, step) {
		t.Fatalf("points in different cells must quantize differently")
	}
}

func TestNearbyKey_QuantizationCollapsing(t *testing.T) {
	step := 0.0005
	k1 := Nearby(37.33840, -121.88631, 5, 20, "food", "vegan", step)
	k2 := Nearby(37.33845, -121.88629, 5, 20, "food", "vegan", step)
	if k1 != k2 {
		t.Fatalf("nearby queries within one cell must share a key:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNearbyKey_FiltersSelectDistinctEntries(t *testing.T) {
	step := 0.0005
	base := Nearby(37.3384, -121.8863, 5, 20, "", "", step)
	withCat := Nearby(37.3384, -121.8863, 5, 20, "food", "", step)
	withTag := Nearby(37.3384, -121.8863, 5, 20, "", "vegan", step)
	withLimit := Nearby(37.3384, -121.8863, 5, 50, "", "", step)
	withRadius := Nearby(37.3384, -121.8863, 2, 20, "", "", step)

	seen := map[string]bool{}
	for _, k := range []string{base, withCat, withTag, withLimit, withRadius} {
		if seen[k] {
			t.Fatalf("duplicate key for distinct query: %s", k)
		}
		seen[k] = true
	}
}

func TestIndexKeys(t *testing.T) {
	if POI("abc") != "poi:abc" {
		t.Fatalf("POI key=%s", POI("abc"))
	}
	if Category("food") != "poi:cat:food" {
		t.Fatalf("Category key=%s", Category("food"))
	}
	if Tag("vegan") != "poi:tag:vegan" {
		t.Fatalf("Tag key=%s", Tag("vegan"))
	}
	if Lock("k") != "__lock__:k" {
		t.Fatalf("Lock key=%s", Lock("k"))
	}
}
