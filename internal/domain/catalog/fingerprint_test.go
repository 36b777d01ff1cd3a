package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func strptr(s string) *string { return &s }

func sampleRecord() Record {
	return Record{
		ProductKey: "42",
		URL:        "https://shop.example/product/42",
		Title:      strptr("Linen Shirt"),
		Price:      &Price{Amount: "9.99", Currency: "$"},
		Media: []MediaRef{
			{MediaType: MediaImage, SourceURL: "https://cdn.example/i1.jpg"},
			{MediaType: MediaVideo, SourceURL: "https://cdn.example/v1.mp4"},
		},
		Raw: json.RawMessage(`{"path":"/product/42"}`),
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	first := Fingerprint(sampleRecord())
	second := Fingerprint(sampleRecord())
	if first != second {
		t.Fatalf("fingerprint not deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 || strings.ToLower(first) != first {
		t.Fatalf("expected lowercase hex sha-256, got %q", first)
	}
}

func TestFingerprintIgnoresRawAndLocalPath(t *testing.T) {
	base := Fingerprint(sampleRecord())

	withRaw := sampleRecord()
	withRaw.Raw = json.RawMessage(`{"path":"/elsewhere","noise":[1,2,3]}`)
	if got := Fingerprint(withRaw); got != base {
		t.Fatalf("raw echo leaked into fingerprint")
	}

	withLocal := sampleRecord()
	withLocal.Media[0].LocalPath = strptr("/data/media/i1.jpg")
	if got := Fingerprint(withLocal); got != base {
		t.Fatalf("media local_path leaked into fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(sampleRecord())

	titled := sampleRecord()
	titled.Title = strptr("Linen Shirt v2")
	if Fingerprint(titled) == base {
		t.Fatalf("title change not reflected")
	}

	repriced := sampleRecord()
	repriced.Price = &Price{Amount: "9.990", Currency: "$"}
	if Fingerprint(repriced) == base {
		t.Fatalf("price amount change not reflected")
	}

	extraMedia := sampleRecord()
	extraMedia.Media = append(extraMedia.Media, MediaRef{MediaType: MediaImage, SourceURL: "https://cdn.example/i2.jpg"})
	if Fingerprint(extraMedia) == base {
		t.Fatalf("media addition not reflected")
	}

	noPrice := sampleRecord()
	noPrice.Price = nil
	if Fingerprint(noPrice) == base {
		t.Fatalf("absent price not reflected")
	}
}

func TestHashCanonicalKeyOrderIndependent(t *testing.T) {
	a := map[string]any{
		"outer": map[string]any{"b": "2", "a": "1"},
		"list":  []any{map[string]any{"y": 2, "x": 1}},
	}
	b := map[string]any{
		"list":  []any{map[string]any{"x": 1, "y": 2}},
		"outer": map[string]any{"a": "1", "b": "2"},
	}
	if HashCanonical(a) != HashCanonical(b) {
		t.Fatalf("canonical hash depends on map key order")
	}
}

func TestHashCanonicalASCIIEscapes(t *testing.T) {
	// Non-ASCII runes must encode identically regardless of platform defaults.
	cjk := HashCanonical(map[string]any{"title": "查看商品"})
	again := HashCanonical(map[string]any{"title": "查看商品"})
	if cjk != again {
		t.Fatalf("non-ascii canonical hash unstable")
	}
	if cjk == HashCanonical(map[string]any{"title": "查看商"}) {
		t.Fatalf("distinct non-ascii values collide")
	}

	// Astral-plane runes take surrogate-pair escapes and must stay stable too.
	emoji := HashCanonical(map[string]any{"title": "🛍️ sale"})
	if emoji != HashCanonical(map[string]any{"title": "🛍️ sale"}) {
		t.Fatalf("surrogate-pair canonical hash unstable")
	}
}

func TestBuildDedupeKeyVector(t *testing.T) {
	sum := sha256.Sum256([]byte("42:1:product_created"))
	want := hex.EncodeToString(sum[:])
	if got := BuildDedupeKey("42", 1, "product_created"); got != want {
		t.Fatalf("dedupe key mismatch: got %s want %s", got, want)
	}
	if BuildDedupeKey("42", 2, "product_created") == BuildDedupeKey("42", 1, "product_created") {
		t.Fatalf("version must contribute to dedupe key")
	}
}

func TestPriceEqual(t *testing.T) {
	a := &Price{Amount: "9.99", Currency: "$"}
	b := &Price{Amount: "9.99", Currency: "$"}
	c := &Price{Amount: "9.990", Currency: "$"}
	if !a.Equal(b) {
		t.Fatalf("identical prices not equal")
	}
	// Amounts compare as strings; a reformatted amount is a content change.
	if a.Equal(c) {
		t.Fatalf("reformatted amount compared equal")
	}
	if a.Equal(nil) || (*Price)(nil).Equal(a) {
		t.Fatalf("nil comparisons must be false")
	}
	if !(*Price)(nil).Equal(nil) {
		t.Fatalf("nil-nil must be equal")
	}
}
