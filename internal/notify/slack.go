// Package notify announces abandoned pushes to Slack so stuck deploy
// candidates are visible without watching the job queue.
package notify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/pushgate/pushgate/internal/database"
)

// SlackNotifier posts abandoned-push notices to one channel
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier; returns nil when unconfigured so
// callers can skip notification entirely.
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	if botToken == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{client: slack.New(botToken), channel: channel}
}

// PushAbandoned announces that a push exhausted its reconciliation retries.
// Failures are logged, never propagated; notification is best effort.
func (n *SlackNotifier) PushAbandoned(push *database.Push, lastError string) {
	message := fmt.Sprintf(
		":rotating_light: Push %s (service %s) abandoned after exhausting reconciliation retries.\nLast error: %s",
		push.String(), push.Service.Name, lastError)

	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(message, false))
	if err != nil {
		log.Printf("Failed to send abandoned-push notice for push %d: %v", push.ID, err)
	}
}
