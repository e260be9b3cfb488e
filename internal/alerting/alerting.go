// Package alerting models alert channels as a closed capability set rather
// than an open-ended subclass hierarchy, ported from the original
// common/alerting.h (ConsoleAlertChannel, etc.) as a small interface plus a
// fixed list of concrete channels, rate-limited per (module, code) pair.
package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "alerting")

// Entry is a single alert to be dispatched to every enabled channel.
type Entry struct {
	Module    string
	Code      string
	Message   string
	Timestamp time.Time
}

// Channel is the capability set every alert channel implements: send,
// enabled, name. No further subclassing is provided; new delivery
// mechanisms are added as new Channel implementations, not subtypes.
type Channel interface {
	Send(Entry) error
	Enabled() bool
	Name() string
}

// ConsoleChannel logs alerts through logrus at warning level.
type ConsoleChannel struct {
	enabled bool
}

// NewConsoleChannel returns a Channel that logs to the structured logger.
func NewConsoleChannel(enabled bool) *ConsoleChannel { return &ConsoleChannel{enabled: enabled} }

func (c *ConsoleChannel) Send(e Entry) error {
	log.WithFields(logrus.Fields{"module": e.Module, "code": e.Code}).Warn(e.Message)
	return nil
}
func (c *ConsoleChannel) Enabled() bool { return c.enabled }
func (c *ConsoleChannel) Name() string  { return "console" }

// WebhookSender is the minimal capability a webhook transport needs; kept
// as an interface so tests can substitute a fake instead of making network
// calls.
type WebhookSender interface {
	Post(url string, body []byte) error
}

// WebhookChannel posts alerts to a configured URL via WebhookSender.
type WebhookChannel struct {
	url     string
	sender  WebhookSender
	enabled bool
}

// NewWebhookChannel returns a Channel that posts alert bodies to url.
func NewWebhookChannel(url string, sender WebhookSender, enabled bool) *WebhookChannel {
	return &WebhookChannel{url: url, sender: sender, enabled: enabled}
}

func (c *WebhookChannel) Send(e Entry) error {
	body := []byte(fmt.Sprintf("[%s:%s] %s", e.Module, e.Code, e.Message))
	return c.sender.Post(c.url, body)
}
func (c *WebhookChannel) Enabled() bool { return c.enabled }
func (c *WebhookChannel) Name() string  { return "webhook" }

// rateLimitWindow bounds alert delivery to one per channel per 60s per
// (module, code) pair.
const rateLimitWindow = 60 * time.Second

// Dispatcher fans an Entry out to every registered, enabled Channel,
// applying the (module, code) rate limit independently per channel.
type Dispatcher struct {
	mu       sync.Mutex
	channels []Channel
	lastSent map[string]time.Time // key: channel name + "|" + module + "|" + code
}

// NewDispatcher constructs a Dispatcher over the given channels.
func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, lastSent: make(map[string]time.Time)}
}

// Fire sends e to every enabled channel not currently rate-limited for
// e's (module, code) pair.
func (d *Dispatcher) Fire(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range d.channels {
		if !ch.Enabled() {
			continue
		}
		key := ch.Name() + "|" + e.Module + "|" + e.Code
		if last, ok := d.lastSent[key]; ok && e.Timestamp.Sub(last) < rateLimitWindow {
			continue
		}
		if err := ch.Send(e); err != nil {
			log.WithError(err).WithField("channel", ch.Name()).Warn("alert delivery failed")
			continue
		}
		d.lastSent[key] = e.Timestamp
	}
}
