// Package notify delivers templated orchestrator events to a project's chat
// channel. Delivery is best-effort: failures are logged, never propagated.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// EventType names a notifiable orchestrator event.
type EventType string

const (
	WorkerStart      EventType = "workerStart"
	WorkerComplete   EventType = "workerComplete"
	ReviewNeeded     EventType = "reviewNeeded"
	PRMerged         EventType = "prMerged"
	ChangesRequested EventType = "changesRequested"
	MergeConflict    EventType = "mergeConflict"
	PRClosed         EventType = "prClosed"
)

// Event is one notification payload.
type Event struct {
	Type       EventType
	Project    string
	IssueIID   int
	IssueTitle string
	IssueURL   string
	Role       string
	Level      string
	PRURL      string
	Detail     string
}

// SendOptions tune delivery per message.
type SendOptions struct {
	Silent             bool
	DisableLinkPreview bool
	AccountID          string
}

// Transport delivers rendered text to one channel of one chat system.
type Transport interface {
	Send(ctx context.Context, channelID, channel, text string, opts SendOptions) error
}

// Notifier renders events and routes them to the right channel binding.
type Notifier struct {
	transport Transport
	log       *slog.Logger
}

// New creates a notifier over a transport. A nil transport disables delivery.
func New(transport Transport) *Notifier {
	return &Notifier{
		transport: transport,
		log:       logging.WithComponent("notify"),
	}
}

// ResolveNotifyChannel picks the channel for an issue: the binding named by a
// notify:<channelId> label if present, else the project's primary channel.
func ResolveNotifyChannel(issueLabels []string, channels []registry.ChannelBinding) *registry.ChannelBinding {
	if len(channels) == 0 {
		return nil
	}
	for _, label := range issueLabels {
		if !strings.HasPrefix(label, workflow.NotifyLabelPrefix) {
			continue
		}
		want := strings.TrimPrefix(label, workflow.NotifyLabelPrefix)
		for i := range channels {
			if channels[i].ChannelID == want {
				return &channels[i]
			}
		}
	}
	return &channels[0]
}

// Notify renders and delivers one event. Errors are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, issueLabels []string, channels []registry.ChannelBinding, ev Event) {
	if n == nil || n.transport == nil {
		return
	}
	binding := ResolveNotifyChannel(issueLabels, channels)
	if binding == nil {
		n.log.Debug("no channel binding for event", "event", ev.Type, "project", ev.Project)
		return
	}

	text := Render(ev)
	opts := SendOptions{
		DisableLinkPreview: true,
		AccountID:          binding.AccountID,
	}
	if err := n.transport.Send(ctx, binding.ChannelID, binding.Channel, text, opts); err != nil {
		n.log.Warn("notification delivery failed",
			"event", ev.Type,
			"project", ev.Project,
			"channel", binding.ChannelID,
			"error", err,
		)
	}
}

// Render produces the plain-text message for an event.
func Render(ev Event) string {
	var b strings.Builder

	switch ev.Type {
	case WorkerStart:
		fmt.Fprintf(&b, "🚀 %s %s picked up #%d", ev.Role, ev.Level, ev.IssueIID)
	case WorkerComplete:
		fmt.Fprintf(&b, "✅ %s finished #%d", ev.Role, ev.IssueIID)
	case ReviewNeeded:
		fmt.Fprintf(&b, "👀 #%d is ready for review", ev.IssueIID)
	case PRMerged:
		fmt.Fprintf(&b, "🎉 PR for #%d merged", ev.IssueIID)
	case ChangesRequested:
		fmt.Fprintf(&b, "🔄 Changes requested on #%d", ev.IssueIID)
	case MergeConflict:
		fmt.Fprintf(&b, "⚠️ Merge conflict on #%d", ev.IssueIID)
	case PRClosed:
		fmt.Fprintf(&b, "❌ PR for #%d closed without merge", ev.IssueIID)
	default:
		fmt.Fprintf(&b, "%s #%d", ev.Type, ev.IssueIID)
	}

	if ev.IssueTitle != "" {
		fmt.Fprintf(&b, " — %s", ev.IssueTitle)
	}
	if ev.Project != "" {
		fmt.Fprintf(&b, "\n%s", ev.Project)
	}
	if ev.PRURL != "" {
		fmt.Fprintf(&b, "\n%s", ev.PRURL)
	} else if ev.IssueURL != "" {
		fmt.Fprintf(&b, "\n%s", ev.IssueURL)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "\n%s", ev.Detail)
	}
	return b.String()
}
