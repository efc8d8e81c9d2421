package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/cuongbtq/intern-crm/internal/domain"
)

// DefaultKillGrace is how long a cancelled ingest process has to exit after
// SIGINT before it is killed
const DefaultKillGrace = 5 * time.Second

// ProcessConfig holds the external ingest process configuration
type ProcessConfig struct {
	Command   string
	Args      []string
	Dir       string
	Env       []string
	APIKey    string
	KillGrace time.Duration
	Logger    *slog.Logger
}

// ProcessSource runs the ingest script and reads its stdout
type ProcessSource struct {
	command   string
	args      []string
	dir       string
	env       []string
	apiKey    string
	killGrace time.Duration
	logger    *slog.Logger
}

// NewProcessSource creates a new process-backed source
func NewProcessSource(cfg *ProcessConfig) *ProcessSource {
	killGrace := cfg.KillGrace
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}

	return &ProcessSource{
		command:   cfg.Command,
		args:      cfg.Args,
		dir:       cfg.Dir,
		env:       cfg.Env,
		apiKey:    cfg.APIKey,
		killGrace: killGrace,
		logger:    cfg.Logger,
	}
}

// Name returns the source name
func (s *ProcessSource) Name() string {
	return "process:" + s.command
}

// Fetch spawns the ingest process. The process handle lives only inside
// this call; cancelling ctx interrupts it and kills it after the grace period.
func (s *ProcessSource) Fetch(ctx context.Context, filters domain.Filters) ([]domain.RawRecord, error) {
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, domain.NewSourceError("start", err, "failed to encode filters")
	}

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Env = append(cmd.Env, "INGEST_FILTERS="+string(filtersJSON))
	if s.apiKey != "" {
		cmd.Env = append(cmd.Env, "RAPIDAPI_KEY="+s.apiKey)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = s.killGrace

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, domain.NewSourceError("start", err, "failed to open stderr")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, domain.NewSourceError("start", err, "")
	}

	s.logger.Info("Ingest process started",
		slog.String("command", s.command),
		slog.Int("pid", cmd.Process.Pid),
	)

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Warn("Ingest process stderr",
			slog.String("line", scanner.Text()),
		)
	}
	// drain whatever the scanner gave up on so the child never blocks
	_, _ = io.Copy(io.Discard, stderr)

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		s.logger.Info("Ingest process stopped by cancellation",
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, ctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, &domain.SourceError{
				Op:       "run",
				ExitCode: exitErr.ExitCode(),
				Message:  lastLine(stdout.Bytes()),
				Err:      waitErr,
			}
		}
		return nil, domain.NewSourceError("run", waitErr, "")
	}

	records, err := ParseOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	s.logger.Info("Ingest process finished",
		slog.Int("records", len(records)),
		slog.Int("stdout_bytes", stdout.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return records, nil
}

// lastLine returns the final non-empty output line, capped for log/error use
func lastLine(out []byte) string {
	out = bytes.TrimSpace(out)
	if i := bytes.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	const maxLen = 512
	if len(out) > maxLen {
		return fmt.Sprintf("%s...", out[:maxLen])
	}
	return string(out)
}
