// Package slackbot posts refresh digests to a channel and answers dashboard
// slash commands over Socket Mode.
package slackbot

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"vadash/internal/dashboard"
	"vadash/internal/domain"
	"vadash/internal/fetch"
	"vadash/internal/httpx"
	"vadash/internal/integrations/llm"
)

const (
	cmdSummary = "/va-summary"
	cmdFilter  = "/va-filter"
	cmdRefresh = "/va-refresh"
	cmdHelp    = "/va-help"
)

// Narrator adds an optional narrative line to digests.
type Narrator interface {
	Narrate(ctx context.Context, snap dashboard.Snapshot) (string, llm.Usage, error)
}

type Bot struct {
	api        *slack.Client
	controller *dashboard.Controller
	refresher  *fetch.Refresher
	narrator   Narrator
	channelID  string
	logger     *zap.SugaredLogger

	post  func(channelID, text string) error
	reply func(channelID, userID, text string)
}

// NewClient builds a Slack API client for Socket Mode on the shared
// external HTTP client.
func NewClient(botToken, appToken string) *slack.Client {
	return slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
		slack.OptionHTTPClient(httpx.Client()),
	)
}

// New wires a bot. refresher and narrator may be nil; channelID may be empty
// to disable digest posting.
func New(api *slack.Client, c *dashboard.Controller, r *fetch.Refresher, narrator Narrator, channelID string, logger *zap.SugaredLogger) *Bot {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Bot{
		api:        api,
		controller: c,
		refresher:  r,
		narrator:   narrator,
		channelID:  channelID,
		logger:     logger,
	}
	b.post = func(channelID, text string) error {
		_, _, err := b.api.PostMessage(channelID, slack.MsgOptionText(text, false))
		return err
	}
	b.reply = func(channelID, userID, text string) {
		if _, err := b.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false)); err != nil {
			b.logger.Errorf("slack ephemeral failed channel=%s err=%v", channelID, err)
		}
	}
	return b
}

// Run connects via Socket Mode and serves slash commands until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	client := socketmode.New(b.api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				switch evt.Type {
				case socketmode.EventTypeConnected:
					b.logger.Infof("slack connected via Socket Mode")
				case socketmode.EventTypeSlashCommand:
					client.Ack(*evt.Request)
					cmd, ok := evt.Data.(slack.SlashCommand)
					if !ok {
						continue
					}
					b.logger.Infof("slack command received command=%s user=%s channel=%s", cmd.Command, cmd.UserID, cmd.ChannelID)
					go b.handleSlashCommand(ctx, cmd)
				}
			}
		}
	}()

	return client.RunContext(ctx)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	b.reply(cmd.ChannelID, cmd.UserID, b.commandResponse(ctx, cmd))
}

func (b *Bot) commandResponse(ctx context.Context, cmd slack.SlashCommand) string {
	switch cmd.Command {
	case cmdSummary:
		q, err := ParseCommandArgs(cmd.Text)
		if err == nil {
			q, err = q.Resolve(b.controller)
		}
		if err != nil {
			return fmt.Sprintf("Could not read filters: %v\n%s", err, usageLine)
		}
		snap := b.controller.Query(q.Criteria, q.Level, q.View)
		return FormatDigest(snap, "")
	case cmdFilter:
		return b.applyFilter(cmd)
	case cmdRefresh:
		if b.refresher == nil {
			return "Refreshing is not configured."
		}
		result, err := b.refresher.Refresh(ctx)
		if err != nil {
			b.logger.Errorf("slack refresh failed user=%s err=%v", cmd.UserID, err)
		}
		return fetch.FormatRefreshSummary(result)
	case cmdHelp:
		return helpText
	}
	return fmt.Sprintf("Unknown command %s. Try %s.", cmd.Command, cmdHelp)
}

// applyFilter changes the shared dashboard view that digests and the HTTP
// stream report. "reset" clears the criteria; no arguments shows the
// current view.
func (b *Bot) applyFilter(cmd slack.SlashCommand) string {
	text := strings.TrimSpace(cmd.Text)
	switch {
	case text == "":
		return FormatDigest(b.controller.Snapshot(), "")
	case strings.EqualFold(text, "reset"):
		b.controller.Reset()
		b.logger.Infof("slack filter reset user=%s", cmd.UserID)
		return "Dashboard filters cleared.\n\n" + FormatDigest(b.controller.Snapshot(), "")
	}

	q, err := ParseCommandArgs(text)
	if err == nil {
		q, err = q.Resolve(b.controller)
	}
	if err != nil {
		return fmt.Sprintf("Could not read filters: %v\n%s", err, filterUsageLine)
	}
	b.controller.SetCriteria(q.Criteria)
	if q.Level != "" {
		if err := b.controller.SetLevel(q.Level); err != nil {
			return fmt.Sprintf("Could not set level: %v", err)
		}
	}
	if q.View != (domain.View{}) {
		if err := b.controller.SetView(q.View); err != nil {
			return fmt.Sprintf("Could not set view: %v", err)
		}
	}
	snap := b.controller.Snapshot()
	b.logger.Infof("slack filter set user=%s seq=%d active=%d", cmd.UserID, snap.Seq, snap.ActiveVAs)
	return "Dashboard filters updated.\n\n" + FormatDigest(snap, "")
}

// NotifyRefresh posts the refresh outcome and, on success, a digest of the
// shared dashboard view. It has the fetch.Notify signature.
func (b *Bot) NotifyRefresh(ctx context.Context, result fetch.RefreshResult, err error) {
	if b.channelID == "" {
		return
	}
	text := fetch.FormatRefreshSummary(result)
	if err == nil && !result.Stale {
		snap := b.controller.Snapshot()
		narrative := ""
		if b.narrator != nil {
			n, usage, nerr := b.narrator.Narrate(ctx, snap)
			if nerr != nil {
				b.logger.Errorf("slack digest narrative failed err=%v", nerr)
			} else {
				narrative = n
				b.logger.Infof("slack digest narrative tokens=%d", usage.TotalTokens())
			}
		}
		text += "\n\n" + FormatDigest(snap, narrative)
	}
	if perr := b.post(b.channelID, text); perr != nil {
		b.logger.Errorf("slack digest post failed channel=%s err=%v", b.channelID, perr)
		return
	}
	b.logger.Infof("slack digest posted channel=%s run=%s", b.channelID, result.RunID)
}

const usageLine = "Usage: `/va-summary cause=TB region=\"Lusaka Province\" from=2021-01-01 to=2021-12-31 age=adult sex=female level=district preset=\"Within 1 year\"`"

const filterUsageLine = "Usage: `/va-filter cause=TB region=\"Lusaka Province\" level=district group=neonatal factor=sex period=week metric=TB` or `/va-filter reset`"

var helpText = strings.Join([]string{
	"*VA Dashboard Commands*",
	"",
	"`/va-summary [filters]` — Summarise VAs matching the filters. No filters means all coded VAs.",
	">" + strings.TrimPrefix(usageLine, "Usage: "),
	"`/va-filter [filters]` — Set the shared dashboard filters and view. `reset` clears them; no filters shows the current view.",
	">" + strings.TrimPrefix(filterUsageLine, "Usage: "),
	"`/va-refresh` — Fetch the VA feed now.",
	"`/va-help` — Show this help.",
}, "\n")
