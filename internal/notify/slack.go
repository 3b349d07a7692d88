package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// ErrorReporter receives failures that must not change a run's outcome,
// such as an audit write that could not be persisted.
type ErrorReporter interface {
	ReportError(ctx context.Context, source string, err error)
}

// LogReporter writes failures to the structured log.
type LogReporter struct {
	Logger zerolog.Logger
}

func (r LogReporter) ReportError(_ context.Context, source string, err error) {
	r.Logger.Error().Err(err).Str("source", source).Msg("reportcast error")
}

// SlackReporter posts failures to a Slack channel.
type SlackReporter struct {
	client  *slack.Client
	channel string
}

func NewSlackReporter(token, channel string, opts ...slack.Option) *SlackReporter {
	return &SlackReporter{
		client:  slack.New(token, opts...),
		channel: channel,
	}
}

func (r *SlackReporter) ReportError(ctx context.Context, source string, err error) {
	attachment := slack.Attachment{
		Color: "#ff0000",
		Title: "reportcast: " + source,
		Text:  err.Error(),
		Fields: []slack.AttachmentField{
			{
				Title: "Source",
				Value: source,
				Short: true,
			},
			{
				Title: "Time",
				Value: time.Now().Format(time.RFC3339),
				Short: true,
			},
		},
		Footer: "reportcast scheduler",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}

	if _, _, postErr := r.client.PostMessageContext(ctx, r.channel, slack.MsgOptionAttachments(attachment)); postErr != nil {
		zerolog.Ctx(ctx).Warn().Err(postErr).Msg("failed to post error to slack")
	}
}

// MultiReporter fans a failure out to every reporter.
type MultiReporter []ErrorReporter

func (m MultiReporter) ReportError(ctx context.Context, source string, err error) {
	for _, r := range m {
		r.ReportError(ctx, source, err)
	}
}
