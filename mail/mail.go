package mail

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Email is one transactional message to deliver
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	Tag      string
}

// Mailer delivers transactional email
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// PostmarkOptions contains the configuration for the postmark Mailer
type PostmarkOptions struct {
	Client *postmark.Client
	Logger *zap.Logger
	From   string
}

// PostmarkMailer delivers email through the Postmark transactional relay
type PostmarkMailer struct {
	PostmarkOptions
}

var _ Mailer = &PostmarkMailer{}

// NewPostmarkMailer returns a Mailer backed by Postmark
func NewPostmarkMailer(option PostmarkOptions) (*PostmarkMailer, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.From) == 0 {
		return nil, fmt.Errorf("empty From is invalid")
	}
	return &PostmarkMailer{
		PostmarkOptions: option,
	}, nil
}

// Send delivers one email via Postmark
func (m *PostmarkMailer) Send(ctx context.Context, e Email) error {
	resp, err := m.Client.SendEmail(ctx, postmark.Email{
		From:     m.From,
		To:       e.To,
		Subject:  e.Subject,
		TextBody: e.TextBody,
		HTMLBody: e.HTMLBody,
		Tag:      e.Tag,
	})
	if err != nil {
		m.Logger.Error("Postmark returned error",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot send email")
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark rejected email: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
