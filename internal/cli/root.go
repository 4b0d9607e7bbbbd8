// Package cli implements the buildctl commands. buildctl talks directly to
// the builder backend with the same client builderd uses; it does not need
// the daemon running.
package cli

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
	"github.com/liquidcrypto/liquidos-builder/internal/builder/api"
)

const defaultBaseURL = "http://localhost:4100/api/builder"

// Options holds the connection flags shared by every command.
type Options struct {
	ServerURL string
	Token     string
	Timeout   time.Duration
}

// DefaultOptions resolves connection settings from the environment.
func DefaultOptions() *Options {
	opts := &Options{
		ServerURL: defaultBaseURL,
		Token:     os.Getenv("BUILDER_TOKEN"),
		Timeout:   30 * time.Second,
	}
	if url := os.Getenv("BUILDER_BASE_URL"); url != "" {
		opts.ServerURL = url
	}
	return opts
}

// Client builds the backend client for one command invocation.
func (o *Options) Client() *api.Client {
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel)
	c := api.NewClient(o.ServerURL, o.Token, logger)
	c.SetTimeout(o.Timeout)
	return c
}

var (
	phaseDone    = color.New(color.FgGreen)
	phaseFailed  = color.New(color.FgRed)
	phaseWaiting = color.New(color.FgYellow)
	phaseRunning = color.New(color.FgCyan)
	faint        = color.New(color.Faint)
)

// phaseColor picks a display color for a phase.
func phaseColor(p builder.Phase) *color.Color {
	switch {
	case p == builder.PhaseComplete:
		return phaseDone
	case p == builder.PhaseFailed:
		return phaseFailed
	case p.AwaitingInput():
		return phaseWaiting
	default:
		return phaseRunning
	}
}

// formatProgress renders "3/5 (Implement login)" or "" when untracked.
func formatProgress(p builder.Progress) string {
	if p.Total == 0 {
		return ""
	}
	s := color.New(color.Bold).Sprintf("%d/%d", p.Completed, p.Total)
	if p.CurrentStory != "" {
		s += faint.Sprintf(" (%s)", p.CurrentStory)
	}
	return s
}
