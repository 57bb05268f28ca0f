package telegram

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Supported values of telegram.run_mode.
const (
	RunModeWebhook  = "webhook"
	RunModeLongpoll = "longpoll"
)

// AllowedUpdates lists the update kinds the routers handle; Telegram drops the rest server-side.
var AllowedUpdates = []string{"message", "callback_query"}

// WebhookOptions declares webhook listener settings.
type WebhookOptions struct {
	Listen string
	Port   int
	URL    string
}

// PollerOptions configures BuildPoller.
type PollerOptions struct {
	RunMode                string
	LongPollTimeoutSeconds int
	Webhook                WebhookOptions
	AllowedUpdates         []string
}

// BuildPoller returns a webhook listener or a long poller, both limited to the allowed updates.
func BuildPoller(opts PollerOptions) tele.Poller {
	allowed := opts.AllowedUpdates
	if len(allowed) == 0 {
		allowed = AllowedUpdates
	}
	if strings.EqualFold(strings.TrimSpace(opts.RunMode), RunModeWebhook) {
		return &tele.Webhook{
			Listen:         fmt.Sprintf("%s:%d", opts.Webhook.Listen, opts.Webhook.Port),
			AllowedUpdates: allowed,
			Endpoint:       &tele.WebhookEndpoint{PublicURL: opts.Webhook.URL},
		}
	}

	timeout := time.Duration(opts.LongPollTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &tele.LongPoller{Timeout: timeout, AllowedUpdates: allowed}
}
