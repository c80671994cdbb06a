package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/nanoflight-decoder/internal/decoder"
	"github.com/skypro1111/nanoflight-decoder/internal/metrics"
	"github.com/skypro1111/nanoflight-decoder/internal/protocol"
)

// Config contains configuration for the batch manager
type Config struct {
	Version      protocol.Version
	OutputSuffix string
	MaxParallel  int
	BufferSize   int
}

// Job describes one log being decoded
type Job struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Output    string    `json:"output,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// Result is the outcome of one decode job
type Result struct {
	Job
	Stats    decoder.Stats
	Duration time.Duration
	Err      error
}

// Totals aggregates every job the manager has finished
type Totals struct {
	Jobs        uint64 `json:"jobs"`
	Failed      uint64 `json:"failed"`
	Records     uint64 `json:"records"`
	Wraparounds uint64 `json:"wraparounds"`
	Bytes       int64  `json:"bytes"`
}

// Manager runs decode jobs. Each job owns its own decoder; the manager only
// tracks which jobs are in flight and the running totals.
type Manager struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	active map[string]Job
	totals Totals
}

// NewManager creates a batch manager
func NewManager(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.Version == 0 {
		cfg.Version = protocol.DefaultVersion
	}
	return &Manager{
		config:  cfg,
		logger:  logger,
		metrics: m,
		active:  make(map[string]Job),
	}
}

// OutputPath derives the text output path for an input log
func OutputPath(input, suffix string) string {
	return input + suffix
}

// DecodeFiles decodes every input concurrently, at most MaxParallel at a
// time. A failing file does not stop the others; its error is reported in
// its Result. The returned error is non-nil only if ctx was cancelled.
func (m *Manager) DecodeFiles(ctx context.Context, inputs []string) ([]Result, error) {
	results := make([]Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.MaxParallel)

	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = m.failed(input, OutputPath(input, m.config.OutputSuffix), err)
				return nil
			}
			results[i] = m.DecodeFile(gctx, input)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// DecodeFile decodes input into OutputPath(input, suffix). The output file
// keeps whatever was written before a failure.
func (m *Manager) DecodeFile(ctx context.Context, input string) Result {
	output := OutputPath(input, m.config.OutputSuffix)

	in, err := os.Open(input)
	if err != nil {
		return m.failed(input, output, fmt.Errorf("open input: %w", err))
	}
	defer in.Close()

	out, err := os.Create(output)
	if err != nil {
		return m.failed(input, output, fmt.Errorf("create output: %w", err))
	}

	sink := decoder.NewLineWriter(out)
	result := m.run(ctx, input, output, in, sink)

	if err := sink.Flush(); err != nil && result.Err == nil {
		result.Err = fmt.Errorf("flush output: %w", err)
	}
	if err := out.Close(); err != nil && result.Err == nil {
		result.Err = fmt.Errorf("close output: %w", err)
	}

	return result
}

// DecodeStream decodes r into sink under the given source name
func (m *Manager) DecodeStream(ctx context.Context, source string, r io.Reader, sink decoder.Sink) Result {
	return m.run(ctx, source, "", r, sink)
}

func (m *Manager) run(ctx context.Context, source, output string, r io.Reader, sink decoder.Sink) Result {
	job := Job{
		ID:        uuid.NewString(),
		Source:    source,
		Output:    output,
		StartTime: time.Now(),
	}

	m.mu.Lock()
	m.active[job.ID] = job
	m.mu.Unlock()
	m.metrics.DecodeStarted()

	m.logger.Debug("Decode started",
		slog.String("job_id", job.ID),
		slog.String("source", source),
		slog.String("output", output),
	)

	stats, err := decoder.Decode(ctx, r, sink,
		decoder.WithVersion(m.config.Version),
		decoder.WithBufferSize(m.config.BufferSize),
		decoder.WithObserver(func(s decoder.Sample) { m.metrics.RecordSample(s.Type) }),
	)

	result := Result{
		Job:      job,
		Stats:    stats,
		Duration: time.Since(job.StartTime),
		Err:      err,
	}
	m.finish(result)
	return result
}

func (m *Manager) finish(result Result) {
	m.mu.Lock()
	delete(m.active, result.ID)
	m.totals.Jobs++
	if result.Err != nil {
		m.totals.Failed++
	}
	m.totals.Records += result.Stats.Records
	m.totals.Wraparounds += result.Stats.Wraparounds
	m.totals.Bytes += result.Stats.Bytes
	m.mu.Unlock()

	m.metrics.RecordDecode(result.Stats.Wraparounds, result.Stats.Bytes, result.Duration.Seconds(), result.Err)

	attrs := []any{
		slog.String("job_id", result.ID),
		slog.String("source", result.Source),
		slog.Uint64("records", result.Stats.Records),
		slog.Uint64("wraparounds", result.Stats.Wraparounds),
		slog.String("bytes", humanize.Bytes(uint64(result.Stats.Bytes))),
		slog.Duration("duration", result.Duration),
	}
	if result.Err != nil {
		level := slog.LevelError
		if errors.Is(result.Err, context.Canceled) {
			level = slog.LevelWarn
		}
		m.logger.Log(context.Background(), level, "Decode failed",
			append(attrs,
				slog.String("kind", metrics.ErrorKind(result.Err)),
				slog.String("error", result.Err.Error()),
			)...,
		)
		return
	}
	m.logger.Info("Decode finished", attrs...)
}

// failed records a job that could not be started
func (m *Manager) failed(source, output string, err error) Result {
	result := Result{
		Job: Job{
			ID:        uuid.NewString(),
			Source:    source,
			Output:    output,
			StartTime: time.Now(),
		},
		Err: err,
	}

	m.mu.Lock()
	m.totals.Jobs++
	m.totals.Failed++
	m.mu.Unlock()

	m.logger.Error("Decode failed",
		slog.String("job_id", result.ID),
		slog.String("source", source),
		slog.String("error", err.Error()),
	)
	return result
}

// ActiveJobs returns the jobs currently being decoded, oldest first
func (m *Manager) ActiveJobs() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]Job, 0, len(m.active))
	for _, job := range m.active {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// Totals returns the running totals
func (m *Manager) Totals() Totals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals
}
