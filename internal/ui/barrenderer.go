package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// BarRenderer is a minimal Renderer for non-interactive/scripted runs: one
// progressbar.ProgressBar per stage, advanced as ProgressEvents arrive, with
// a plain summary line on Complete. Unlike PlainRenderer (line-per-update
// logging, used for CI/redirected output) it assumes the output is a
// pipe-friendly but live-updating terminal such as a cron job's attached
// console.
type BarRenderer struct {
	out   io.Writer
	quiet bool

	stage Stage
	bar   *progressbar.ProgressBar
}

// NewBarRenderer returns a Renderer driven by schollz/progressbar/v3.
func NewBarRenderer(cfg Config) *BarRenderer {
	return &BarRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *BarRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer: it (re)creates the bar whenever the
// stage changes and advances it to event.Current otherwise.
func (r *BarRenderer) UpdateProgress(event ProgressEvent) {
	if r.bar == nil || event.Stage != r.stage {
		if r.bar != nil {
			r.bar.Finish()
			fmt.Fprintln(r.out)
		}
		r.stage = event.Stage
		total := event.Total
		if total <= 0 {
			total = -1 // indeterminate spinner for unknown-size stages
		}
		r.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionSetDescription(event.Stage.String()),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}
	if event.Current > 0 {
		r.bar.Set(event.Current)
	}
}

// AddError implements Renderer.
func (r *BarRenderer) AddError(event ErrorEvent) {
	if r.bar != nil {
		fmt.Fprintln(r.out)
	}
	level := "warning"
	if !event.IsWarn {
		level = "error"
	}
	fmt.Fprintf(r.out, "%s: %s: %v\n", level, event.File, event.Err)
}

// Complete implements Renderer.
func (r *BarRenderer) Complete(stats CompletionStats) {
	if r.bar != nil {
		r.bar.Finish()
	}
	fmt.Fprintf(r.out, "\nindexed %d files, %d chunks in %s (%d errors, %d warnings)\n",
		stats.Files, stats.Chunks, stats.Duration.Round(time.Millisecond), stats.Errors, stats.Warnings)
}

// Stop implements Renderer.
func (r *BarRenderer) Stop() error {
	return nil
}
