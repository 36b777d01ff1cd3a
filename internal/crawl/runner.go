// Package crawl runs the external extractor and feeds its output into the
// catalog reconciler.
package crawl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bling0390/vivbliss-watch/config"
	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
	"github.com/bling0390/vivbliss-watch/internal/observability"
)

const (
	// ModeFull re-extracts the whole site; used on first run or when forced.
	ModeFull = "full"
	// ModeIncremental extracts changes since the last completed run.
	ModeIncremental = "incremental"

	stateFileName = "crawl_state.txt"

	// maxLineBytes bounds one NDJSON record on the extractor's stdout.
	maxLineBytes = 1 << 20
)

// Ingester consumes one extracted record. The reconciler is the production
// implementation.
type Ingester interface {
	Reconcile(ctx context.Context, rec catalog.Record) (catalog.Record, error)
}

var (
	crawlCounter     metric.Int64Counter
	crawlCounterOnce sync.Once
)

// Runner invokes the extractor command and streams its NDJSON stdout into
// the ingester.
type Runner struct {
	settings config.Settings
	ingester Ingester
	clock    func() time.Time
}

// NewRunner constructs a Runner. A nil clock defaults to time.Now.
func NewRunner(settings config.Settings, ingester Ingester, clock func() time.Time) *Runner {
	if clock == nil {
		clock = time.Now
	}
	return &Runner{settings: settings, ingester: ingester, clock: clock}
}

// Run executes one crawl. The first run (no state marker) and forced runs use
// full mode; later runs are incremental. The state marker is written only
// after the extractor exits cleanly and every record is ingested, so a failed
// run repeats in the same mode. It returns the number of records ingested.
func (r *Runner) Run(ctx context.Context, forceFull bool) (int, error) {
	stateDir := filepath.Join(r.settings.DataDir, "state")
	logsDir := filepath.Join(r.settings.DataDir, "logs")
	for _, dir := range []string{stateDir, logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("crawl: create %s: %w", dir, err)
		}
	}

	stateFile := filepath.Join(stateDir, stateFileName)
	mode := ModeIncremental
	if forceFull {
		mode = ModeFull
	} else if _, err := os.Stat(stateFile); err != nil {
		mode = ModeFull
	}

	command := strings.TrimSpace(r.settings.ExtractorCommand)
	if command == "" {
		return 0, fmt.Errorf("crawl: extractor command not configured")
	}
	var args []string
	if profile := strings.TrimSpace(r.settings.ExtractorProfile); profile != "" {
		args = append(args, profile)
	}
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), "CRAWL_MODE="+mode)

	if logPath := strings.TrimSpace(r.settings.CrawlLog); logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, fmt.Errorf("crawl: open log %s: %w", logPath, err)
		}
		defer func() {
			_ = logFile.Close()
		}()
		cmd.Stderr = logFile
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("crawl: stdout pipe: %w", err)
	}

	observability.Log().Info("crawl starting",
		observability.F("mode", mode),
		observability.F("command", command))
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("crawl: start extractor: %w", err)
	}

	ingested, ingestErr := r.ingest(ctx, stdout, mode)
	waitErr := cmd.Wait()
	if ingestErr != nil {
		return ingested, ingestErr
	}
	if waitErr != nil {
		return ingested, fmt.Errorf("crawl: extractor: %w", waitErr)
	}

	completedAt := r.clock().UTC().Format(time.RFC3339)
	if err := os.WriteFile(stateFile, []byte(completedAt), 0o644); err != nil {
		return ingested, fmt.Errorf("crawl: write state marker: %w", err)
	}
	observability.Log().Info("crawl completed",
		observability.F("mode", mode),
		observability.F("records", ingested))
	return ingested, nil
}

// ingest decodes NDJSON records line by line. Malformed lines are logged and
// skipped; ingester failures abort the run.
func (r *Runner) ingest(ctx context.Context, stdout io.Reader, mode string) (int, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	ingested := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec catalog.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			observability.Log().Error("crawl record malformed",
				observability.F("line", line),
				observability.F("error", err.Error()))
			continue
		}
		if _, err := r.ingester.Reconcile(ctx, rec); err != nil {
			return ingested, fmt.Errorf("crawl: ingest line %d: %w", line, err)
		}
		ingested++
		recordCrawlMetric(ctx, mode)
	}
	if err := scanner.Err(); err != nil {
		return ingested, fmt.Errorf("crawl: read extractor output: %w", err)
	}
	return ingested, nil
}

func recordCrawlMetric(ctx context.Context, mode string) {
	crawlCounterOnce.Do(func() {
		meter := otel.Meter("crawl")
		counter, err := meter.Int64Counter("vivbliss_crawl_records_total",
			metric.WithDescription("Extractor records ingested"),
			metric.WithUnit("{record}"))
		if err == nil {
			crawlCounter = counter
		}
	})
	if crawlCounter == nil {
		return
	}
	crawlCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}
