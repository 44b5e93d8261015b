// Package dispatch turns chat commands from the message bus into
// orchestrator calls and narrates the results back to the chat.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/bus"
	"github.com/atuona/mediabot/pkg/orchestrator"
	"github.com/atuona/mediabot/pkg/visualization"
)

// Orchestrator is the part of orchestrator.Orchestrator the dispatcher uses.
type Orchestrator interface {
	Orchestrate(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (*orchestrator.Result, error)
	CheckTask(ctx context.Context, contentID string, sink orchestrator.Sink) (*orchestrator.CheckResult, error)
	Gallery(ctx context.Context, limit int) ([]*visualization.Visualization, error)
}

// Dispatcher consumes inbound chat messages and runs one goroutine per
// message.
type Dispatcher struct {
	bus    *bus.MessageBus
	orch   Orchestrator
	logger zerolog.Logger

	wg sync.WaitGroup
}

// New creates a Dispatcher.
func New(messageBus *bus.MessageBus, orch Orchestrator, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		bus:    messageBus,
		orch:   orch,
		logger: logger.With().Str("component", "dispatch").Logger(),
	}
}

// Run processes inbound messages until ctx is done, then waits for the
// in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Msg("dispatch: loop started")
	inbound := d.bus.ConsumeInbound()
	defer d.wg.Wait()

	for {
		select {
		case msg := <-inbound:
			d.wg.Add(1)
			go func(m bus.InboundMessage) {
				defer d.wg.Done()
				if err := d.Handle(ctx, m); err != nil {
					d.logger.Warn().Err(err).Str("session", m.SessionKey()).Msg("dispatch: command failed")
					d.reply(ctx, m, fmt.Sprintf("Sorry, that did not work: %v", err))
				}
			}(msg)
		case <-ctx.Done():
			d.logger.Info().Msg("dispatch: loop stopping")
			return nil
		}
	}
}

// Handle processes one inbound message. Plain text is answered with a hint.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.InboundMessage) error {
	cmd, err := ParseCommand(msg.Content)
	if errors.Is(err, ErrNotCommand) {
		d.reply(ctx, msg, "Send /visualize <contentId> <prompt> to generate media, or /help for commands.")
		return nil
	}
	if err != nil {
		return err
	}

	sink := ChatSink{Bus: d.bus, Channel: msg.Channel, ChatID: msg.ChatID}
	switch cmd.Name {
	case CmdVisualize:
		return d.visualize(ctx, sink, cmd)
	case CmdGallery:
		return d.gallery(ctx, msg, cmd.Limit)
	case CmdVideoStatus:
		return d.videoStatus(ctx, msg, sink, cmd.ContentID)
	}
	return nil
}

func (d *Dispatcher) visualize(ctx context.Context, sink orchestrator.Sink, cmd Command) error {
	res, err := d.orch.Orchestrate(ctx, orchestrator.Request{
		ContentID:    cmd.ContentID,
		Title:        cmd.ContentID,
		Prompt:       cmd.Prompt,
		AspectRatios: cmd.Ratios,
	}, sink)
	if err != nil {
		// image failures were already narrated through the sink
		if res != nil {
			return nil
		}
		return err
	}
	d.logger.Info().
		Str("content_id", res.ContentID).
		Str("run", res.RunID).
		Str("status", string(res.Status)).
		Msg("dispatch: visualize finished")
	return nil
}

func (d *Dispatcher) gallery(ctx context.Context, msg bus.InboundMessage, limit int) error {
	items, err := d.orch.Gallery(ctx, limit)
	if err != nil {
		return err
	}
	d.reply(ctx, msg, FormatGallery(items))
	return nil
}

func (d *Dispatcher) videoStatus(ctx context.Context, msg bus.InboundMessage, sink orchestrator.Sink, contentID string) error {
	res, err := d.orch.CheckTask(ctx, contentID, sink)
	switch {
	case errors.Is(err, visualization.ErrNotFound):
		d.reply(ctx, msg, fmt.Sprintf("No visualization for %s", contentID))
		return nil
	case errors.Is(err, orchestrator.ErrNoPendingTask):
		d.reply(ctx, msg, fmt.Sprintf("%s %s has no pending video (status %s)", res.Status.Glyph(), contentID, res.Status))
		return nil
	case err != nil:
		return err
	}
	if !res.State.Terminal() {
		d.reply(ctx, msg, fmt.Sprintf("⏳ %s: %s task %s is %s", contentID, res.Task.Provider, res.Task.Handle, res.State))
	}
	return nil
}

func (d *Dispatcher) reply(ctx context.Context, msg bus.InboundMessage, text string) {
	if err := d.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	}); err != nil {
		d.logger.Warn().Err(err).Msg("dispatch: queue reply")
	}
}

// FormatGallery renders one line per record, newest first.
func FormatGallery(items []*visualization.Visualization) string {
	if len(items) == 0 {
		return "No visualizations yet."
	}
	var sb strings.Builder
	sb.WriteString("Recent visualizations:\n")
	for _, v := range items {
		title := v.Title
		if title == "" {
			title = v.ContentID
		}
		fmt.Fprintf(&sb, "%s %s  %s  %s\n", v.Status.Glyph(), v.ContentID, title, v.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(sb.String(), "\n")
}
