package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Fingerprint computes the stable content hash of a product record: the record
// fields plus media (media_type, source_url) pairs, excluding the raw echo and
// media local paths. The same logical input yields the same digest across
// processes and restarts.
func Fingerprint(rec Record) string {
	media := make([]any, 0, len(rec.Media))
	for _, m := range rec.Media {
		media = append(media, map[string]any{
			"media_type": string(m.MediaType),
			"source_url": m.SourceURL,
		})
	}
	payload := map[string]any{
		"product_key": rec.ProductKey,
		"url":         rec.URL,
		"title":       optionalString(rec.Title),
		"price":       priceValue(rec.Price),
		"media":       media,
	}
	return HashCanonical(payload)
}

// HashCanonical renders the value in canonical textual form and returns the
// lowercase hex SHA-256 digest.
func HashCanonical(value any) string {
	var b strings.Builder
	writeCanonical(&b, value)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// BuildDedupeKey derives the globally unique outbox/receipt key for a product
// version event: SHA-256 over "{product_key}:{version}:{event_type}".
func BuildDedupeKey(productKey string, version int, eventType string) string {
	raw := fmt.Sprintf("%s:%d:%s", productKey, version, eventType)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func optionalString(ptr *string) any {
	if ptr == nil {
		return nil
	}
	return *ptr
}

func priceValue(p *Price) any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"amount":   p.Amount,
		"currency": p.Currency,
	}
}

// writeCanonical encodes the value deterministically: object keys sorted
// recursively, compact separators, ASCII-only string escapes.
func writeCanonical(b *strings.Builder, value any) {
	switch v := value.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if v {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		writeEscapedString(b, v)
	case int:
		b.WriteString(strconv.Itoa(v))
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeEscapedString(b, k)
			b.WriteByte(':')
			writeCanonical(b, v[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		// Unsupported kinds fall back to their formatted representation so the
		// encoding stays total; fingerprint inputs only use the cases above.
		writeEscapedString(b, fmt.Sprintf("%v", v))
	}
}

func writeEscapedString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(b, `\u%04x`, r)
			case r < utf8.RuneSelf:
				b.WriteRune(r)
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(b, `\u%04x`, r)
			}
		}
	}
	b.WriteByte('"')
}
