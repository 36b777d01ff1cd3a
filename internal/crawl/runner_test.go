package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bling0390/vivbliss-watch/config"
	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
)

type recordingIngester struct {
	records []catalog.Record
	err     error
}

func (r *recordingIngester) Reconcile(_ context.Context, rec catalog.Record) (catalog.Record, error) {
	if r.err != nil {
		return rec, r.err
	}
	r.records = append(r.records, rec)
	return rec, nil
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "extract.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func crawlSettings(t *testing.T, command string) config.Settings {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ExtractorCommand = command
	cfg.ExtractorProfile = "products"
	cfg.CrawlLog = ""
	return cfg
}

func TestRunFirstCrawlIsFull(t *testing.T) {
	script := writeScript(t, `printf '{"product_key":"42","url":"%s"}\n' "$CRAWL_MODE"`)
	cfg := crawlSettings(t, script)
	ingester := &recordingIngester{}
	runner := NewRunner(cfg, ingester, nil)

	count, err := runner.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 1 || len(ingester.records) != 1 {
		t.Fatalf("expected 1 record, got count=%d records=%d", count, len(ingester.records))
	}
	if ingester.records[0].URL != ModeFull {
		t.Fatalf("first run must export CRAWL_MODE=full, extractor saw %q", ingester.records[0].URL)
	}

	marker := filepath.Join(cfg.DataDir, "state", "crawl_state.txt")
	raw, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read state marker: %v", err)
	}
	if _, err := time.Parse(time.RFC3339, string(raw)); err != nil {
		t.Fatalf("state marker not RFC3339: %q", raw)
	}
}

func TestRunAfterMarkerIsIncremental(t *testing.T) {
	script := writeScript(t, `printf '{"product_key":"42","url":"%s"}\n' "$CRAWL_MODE"`)
	cfg := crawlSettings(t, script)
	ingester := &recordingIngester{}
	runner := NewRunner(cfg, ingester, nil)

	if _, err := runner.Run(context.Background(), false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := runner.Run(context.Background(), false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ingester.records[1].URL != ModeIncremental {
		t.Fatalf("second run must be incremental, extractor saw %q", ingester.records[1].URL)
	}
}

func TestRunForceFullOverridesMarker(t *testing.T) {
	script := writeScript(t, `printf '{"product_key":"42","url":"%s"}\n' "$CRAWL_MODE"`)
	cfg := crawlSettings(t, script)
	ingester := &recordingIngester{}
	runner := NewRunner(cfg, ingester, nil)

	if _, err := runner.Run(context.Background(), false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := runner.Run(context.Background(), true); err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if ingester.records[1].URL != ModeFull {
		t.Fatalf("forced run must be full, extractor saw %q", ingester.records[1].URL)
	}
}

func TestRunSkipsMalformedLines(t *testing.T) {
	script := writeScript(t, `printf 'not json\n{"product_key":"42","url":"u"}\n\n'`)
	cfg := crawlSettings(t, script)
	ingester := &recordingIngester{}
	runner := NewRunner(cfg, ingester, nil)

	count, err := runner.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if count != 1 {
		t.Fatalf("malformed and blank lines must be skipped, got %d", count)
	}
}

func TestRunExtractorFailureLeavesNoMarker(t *testing.T) {
	script := writeScript(t, `exit 3`)
	cfg := crawlSettings(t, script)
	runner := NewRunner(cfg, &recordingIngester{}, nil)

	if _, err := runner.Run(context.Background(), false); err == nil {
		t.Fatalf("expected error for failing extractor")
	}
	marker := filepath.Join(cfg.DataDir, "state", "crawl_state.txt")
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("failed run must not write the state marker")
	}
}

func TestRunIngestFailureAborts(t *testing.T) {
	script := writeScript(t, `printf '{"product_key":"42","url":"u"}\n'`)
	cfg := crawlSettings(t, script)
	runner := NewRunner(cfg, &recordingIngester{err: errors.New("db down")}, nil)

	if _, err := runner.Run(context.Background(), false); err == nil {
		t.Fatalf("expected error when ingest fails")
	}
}

func TestRunCreatesDataDirs(t *testing.T) {
	script := writeScript(t, `printf ''`)
	cfg := crawlSettings(t, script)
	runner := NewRunner(cfg, &recordingIngester{}, nil)

	if _, err := runner.Run(context.Background(), false); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, dir := range []string{"logs", "state"} {
		if info, err := os.Stat(filepath.Join(cfg.DataDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
}
