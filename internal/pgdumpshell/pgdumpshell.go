// Package pgdumpshell shells out to the pg_dump binary on $PATH to
// produce the pre-data and post-data schema sections that bracket a
// linear SQL dump's row payload. It does not reimplement pg_dump.
package pgdumpshell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/dbslice/dbslice/pkg/utils"
)

// Section names pg_dump accepts via --section.
const (
	SectionPreData  = "pre-data"
	SectionPostData = "post-data"
)

// Runner invokes pg_dump for a single schema section and streams its
// output to a writer.
type Runner struct {
	// DSN is passed to pg_dump via -d; empty uses pg_dump's own
	// environment-derived connection defaults.
	DSN    string
	Logger utils.Logger
}

// NewRunner creates a Runner against the given connection string.
func NewRunner(dsn string, logger utils.Logger) *Runner {
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, os.Stderr)
	}
	return &Runner{DSN: dsn, Logger: logger}
}

// Section runs `pg_dump -B --no-acl --section <section>` and copies
// its stdout into out. stdin is not connected, matching the
// original collaborator this wraps.
func (r *Runner) Section(ctx context.Context, section string, out io.Writer) error {
	start := time.Now()
	r.Logger.Debug("dumping schema section %s", section)

	args := []string{"-B", "--no-acl", "--section", section}
	if r.DSN != "" {
		args = append(args, "-d", r.DSN)
	}

	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Stdin = nil
	cmd.Stdout = out

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to attach pg_dump stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pg_dump: %w", err)
	}

	errOutput, _ := io.ReadAll(stderr)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pg_dump --section %s failed: %w: %s", section, err, errOutput)
	}

	r.Logger.Debug("dumped schema section %s in %s", section, time.Since(start))
	return nil
}

// PreData runs the pre-data section.
func (r *Runner) PreData(ctx context.Context, out io.Writer) error {
	return r.Section(ctx, SectionPreData, out)
}

// PostData runs the post-data section.
func (r *Runner) PostData(ctx context.Context, out io.Writer) error {
	return r.Section(ctx, SectionPostData, out)
}
