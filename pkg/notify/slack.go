package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// SlackChannel posts notifications to an incoming webhook
type SlackChannel struct {
	webhookURL string
	client     *resty.Client
}

// NewSlackChannel creates a webhook channel
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     resty.New().SetTimeout(10 * time.Second),
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, msg *Message) error {
	payload := slackPayload{Text: slackTitle(msg)}
	if len(msg.Fields) > 0 {
		att := slackAttachment{Color: slackColor(msg.Kind)}
		for _, f := range msg.Fields {
			att.Fields = append(att.Fields, slackField{Title: f.Title, Value: f.Value, Short: f.Short})
		}
		payload.Attachments = []slackAttachment{att}
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("%w: slack webhook: %v", ErrSendFailed, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: slack webhook returned %d", ErrSendFailed, resp.StatusCode())
	}
	return nil
}

func slackTitle(msg *Message) string {
	switch msg.Kind {
	case KindFailure:
		return "Pipeline Failure Alert"
	case KindRecovered:
		return "Pipeline Recovered"
	case KindSuccess:
		return "Pipeline Success"
	default:
		return msg.Subject
	}
}

func slackColor(kind Kind) string {
	if kind == KindFailure {
		return "danger"
	}
	return "good"
}
