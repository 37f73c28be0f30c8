// Package email sends transactional mail through an HTTP mail service.
package email

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/internal/ratelimit"
)

// DefaultTimeout bounds a send call
const DefaultTimeout = 15 * time.Second

// Message is one outgoing email
type Message struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

// Client posts messages to the mail service, throttled to a per-minute budget
type Client struct {
	http    *resty.Client
	from    string
	limiter *ratelimit.Limiter
}

// NewClient creates a mail client. perMinute <= 0 disables throttling.
func NewClient(baseURL, apiKey, from string, timeout time.Duration, perMinute int) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c, from: from, limiter: ratelimit.NewLimiter(perMinute)}
}

// Send delivers msg, waiting for the rate limiter first
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.NewInvalidRequestError("email requires a recipient")
	}
	if msg.From == "" {
		msg.From = c.from
	}

	if err := c.limiter.Wait(ctx, "email"); err != nil {
		return err
	}

	resp, err := c.http.R().SetContext(ctx).SetBody(msg).Post("/send")
	if err != nil {
		return errors.WrapExternalService(err, "email")
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return errors.NewExternalServiceError("email", "POST /send returned "+resp.Status())
	}
	return nil
}

// FollowUpReminder builds the reminder mail for an application.
// Company and position are user-controlled and are escaped.
func FollowUpReminder(to, company, position string, round, max int) Message {
	c, p := html.EscapeString(company), html.EscapeString(position)
	return Message{
		To:      to,
		Subject: "Follow-up Reminder: " + company + " - " + position,
		HTML: "<p>It has been a while since you applied to <strong>" + c + "</strong> for the <strong>" + p +
			"</strong> role.</p><p>Now is a good time to follow up with the hiring team.</p>" +
			fmt.Sprintf("<p><small>Reminder %d of %d</small></p>", round, max),
		Text: "Time to follow up on your application to " + company + " (" + position + ").",
	}
}
