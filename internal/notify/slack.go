// Package notify posts build outcome notifications to Slack. It implements
// session.Notifier; the store invokes it when a build reaches a terminal
// phase.
package notify

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/liquidcrypto/liquidos-builder/internal/builder"
)

// SlackAPI is the minimal Slack API surface needed by the notifier.
type SlackAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts a message per finished build to a fixed channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
	logger  zerolog.Logger
}

// NewSlackNotifier creates a notifier backed by the real Slack client.
func NewSlackNotifier(token, channel string, logger zerolog.Logger) *SlackNotifier {
	return NewSlackNotifierWithAPI(slack.New(token), channel, logger)
}

// NewSlackNotifierWithAPI creates a notifier with an injected API client.
func NewSlackNotifierWithAPI(api SlackAPI, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// BuildFinished posts the outcome message. Failures are logged, never
// propagated; a notification is best-effort.
func (n *SlackNotifier) BuildFinished(rec builder.BuildRecord) {
	text := formatOutcome(rec)
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn().Err(err).Str("build_id", rec.ID).Msg("failed to post build notification")
		return
	}
	n.logger.Debug().Str("build_id", rec.ID).Str("phase", string(rec.Phase)).Msg("build notification posted")
}

// formatOutcome renders a one-line summary with a phase emoji.
func formatOutcome(rec builder.BuildRecord) string {
	var b strings.Builder

	switch {
	case rec.Phase == builder.PhaseComplete:
		b.WriteString(":white_check_mark: Build complete")
	case rec.Error == builder.ErrCancelled:
		b.WriteString(":no_entry_sign: Build cancelled")
	default:
		b.WriteString(":x: Build failed")
	}

	fmt.Fprintf(&b, " `%s`", rec.ID)
	if rec.AppID != "" {
		fmt.Fprintf(&b, " (app `%s`)", rec.AppID)
	}
	if rec.Description != "" {
		desc := rec.Description
		if len(desc) > 120 {
			desc = desc[:117] + "..."
		}
		b.WriteString(": " + desc)
	}
	if rec.Progress.Total > 0 {
		fmt.Fprintf(&b, " [%d/%d stories]", rec.Progress.Completed, rec.Progress.Total)
	}
	if rec.Phase == builder.PhaseFailed && rec.Error != "" && rec.Error != builder.ErrCancelled {
		b.WriteString("\n> " + rec.Error)
	}
	return b.String()
}
