package main

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/calendar-sync/internal/audit"
	"github.com/hackgods/calendar-sync/internal/importer"
	"github.com/hackgods/calendar-sync/internal/logger"
)

// SimConfig drives a burst of concurrent imports of one calendar against a
// running api-server, followed by a dry-run audit that must find nothing.
type SimConfig struct {
	APIBaseURL   string        `envconfig:"SIM_API_BASE_URL" default:"http://localhost:8080"`
	CalendarFile string        `envconfig:"SIM_CALENDAR_FILE" default:"testdata/sample.ics"`
	Workers      int           `envconfig:"SIM_WORKERS" default:"8"`
	Rounds       int           `envconfig:"SIM_ROUNDS" default:"3"`
	Timeout      time.Duration `envconfig:"SIM_TIMEOUT" default:"2m"`
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Simulator struct {
	config   SimConfig
	calendar []byte
	client   *resty.Client
	log      zerolog.Logger

	imports  OperationMetrics
	imported int64
	skipped  int64
	failures int64
	audit    audit.Report
}

func main() {
	log := logger.New("simulate", "info")

	var cfg SimConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	calendar, err := os.ReadFile(cfg.CalendarFile)
	if err != nil {
		log.Fatal().Err(err).Msg("read calendar")
	}

	log.Info().
		Str("api", cfg.APIBaseURL).
		Str("calendar", cfg.CalendarFile).
		Int("workers", cfg.Workers).
		Int("rounds", cfg.Rounds).
		Msg("simulator starting")

	sim := &Simulator{
		config:   cfg,
		calendar: calendar,
		client: resty.New().
			SetBaseURL(cfg.APIBaseURL).
			SetTimeout(cfg.Timeout),
		log: log,
	}

	sim.Run()
	if err := sim.Verify(); err != nil {
		sim.PrintReport()
		log.Fatal().Err(err).Msg("verification failed")
	}
	sim.PrintReport()
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Rounds <= 0 {
		return fmt.Errorf("SIM_ROUNDS must be > 0")
	}
	return nil
}

// Run fires Workers concurrent imports of the same calendar, Rounds times.
func (s *Simulator) Run() {
	for round := 1; round <= s.config.Rounds; round++ {
		var wg sync.WaitGroup
		for i := 0; i < s.config.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.doImport()
			}()
		}
		wg.Wait()
		s.log.Info().Int("round", round).Msg("round complete")
	}
}

func (s *Simulator) doImport() {
	start := time.Now()
	var summary importer.Summary
	resp, err := s.client.R().
		SetHeader("Content-Type", "text/calendar").
		SetBody(s.calendar).
		SetResult(&summary).
		Post("/imports")
	latency := time.Since(start)

	if err != nil {
		s.log.Warn().Err(err).Msg("import request failed")
		s.imports.Record(latency, false, false)
		return
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		atomic.AddInt64(&s.imported, int64(summary.Imported))
		atomic.AddInt64(&s.skipped, int64(summary.Skipped))
		atomic.AddInt64(&s.failures, int64(summary.Errors))
		s.imports.Record(latency, true, false)
	case http.StatusConflict:
		s.imports.Record(latency, false, true)
	default:
		s.log.Warn().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("import rejected")
		s.imports.Record(latency, false, false)
	}
}

// Verify runs a dry-run audit; any duplicate means two imports raced past
// the natural-key check.
func (s *Simulator) Verify() error {
	resp, err := s.client.R().
		SetQueryParam("dry_run", "true").
		SetResult(&s.audit).
		Post("/audits")
	if err != nil {
		return fmt.Errorf("audit request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("audit status %d: %s", resp.StatusCode(), resp.String())
	}
	if s.audit.Removed > 0 {
		return fmt.Errorf("found %d duplicate appointments in %d groups", s.audit.Removed, s.audit.Groups)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Workers: %d  Rounds: %d\n", s.config.Workers, s.config.Rounds)
	fmt.Println()

	printOperationReport("Import", &s.imports)

	fmt.Println("Occurrences:")
	fmt.Printf("  Imported: %d\n", atomic.LoadInt64(&s.imported))
	fmt.Printf("  Skipped: %d\n", atomic.LoadInt64(&s.skipped))
	fmt.Printf("  Errors: %d\n", atomic.LoadInt64(&s.failures))
	fmt.Println()
	fmt.Printf("Duplicates found by audit: %d\n", s.audit.Removed)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
