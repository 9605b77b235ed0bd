package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarRenderer_UpdateProgress_CreatesBarPerStage(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewBarRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageCloning, Current: 1, Total: 10})
	firstBar := r.bar
	require.NotNil(t, firstBar)

	r.UpdateProgress(ProgressEvent{Stage: StageCloning, Current: 5, Total: 10})
	assert.Same(t, firstBar, r.bar)

	r.UpdateProgress(ProgressEvent{Stage: StageParsing, Current: 1, Total: 3})
	assert.NotSame(t, firstBar, r.bar)
}

func TestBarRenderer_Complete_WritesSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewBarRenderer(NewConfig(buf))

	r.Complete(CompletionStats{Files: 3, Chunks: 12, Duration: 2 * time.Second})

	assert.Contains(t, buf.String(), "indexed 3 files, 12 chunks")
}

func TestBarRenderer_AddError_WritesLine(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewBarRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{File: "a.go", Err: assert.AnError, IsWarn: true})

	assert.Contains(t, buf.String(), "a.go")
}
