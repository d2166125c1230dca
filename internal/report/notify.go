package report

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stockcheck/stockcheck/internal/httpclient"
)

const linePushURL = "https://api.line.me/v2/bot/message/push"

// Notifier delivers the final brief.
type Notifier interface {
	Push(ctx context.Context, text string) error
}

// LineNotifier pushes a text message through the LINE Messaging API.
type LineNotifier struct {
	HTTP     *httpclient.Client
	Token    string
	UserID   string
	Endpoint string
}

func (n *LineNotifier) Push(ctx context.Context, text string) error {
	endpoint := n.Endpoint
	if endpoint == "" {
		endpoint = linePushURL
	}
	body := map[string]any{
		"to": n.UserID,
		"messages": []map[string]string{
			{"type": "text", "text": text},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + n.Token}
	if _, err := n.HTTP.PostJSON(ctx, endpoint, body, headers); err != nil {
		return fmt.Errorf("line push: %w", err)
	}
	return nil
}

// NopNotifier logs and drops the message. Used when LINE credentials
// are absent.
type NopNotifier struct {
	Log *logrus.Logger
}

func (n *NopNotifier) Push(ctx context.Context, text string) error {
	n.Log.Info("LINE credentials not set, skipping push")
	return nil
}

// NewNotifier picks the notifier by credential presence.
func NewNotifier(hc *httpclient.Client, token, userID string, log *logrus.Logger) Notifier {
	if token == "" || userID == "" {
		return &NopNotifier{Log: log}
	}
	return &LineNotifier{HTTP: hc, Token: token, UserID: userID}
}
