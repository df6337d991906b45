// Package mail delivers transactional email.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

func (m Message) validate() error {
	if !strings.Contains(m.To, "@") {
		return fmt.Errorf("mail: invalid recipient %q", m.To)
	}
	if m.Subject == "" {
		return errors.New("mail: empty subject")
	}
	return nil
}

// Sender delivers one message. Implementations return an error for anything
// that should be retried.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// MailgunSender sends email through the Mailgun API.
type MailgunSender struct {
	client *mailgun.MailgunImpl
	from   string
	log    *zap.Logger
}

// NewMailgunSender returns a sender for domain. apiBase overrides the API
// endpoint (EU region or tests) when set and must end with the API version,
// for example https://api.eu.mailgun.net/v3.
func NewMailgunSender(domain, apiKey, apiBase, from string, log *zap.Logger) *MailgunSender {
	client := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		client.SetAPIBase(apiBase)
	}
	return &MailgunSender{client: client, from: from, log: log.Named("mail.mailgun")}
}

func (s *MailgunSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	message := s.client.NewMessage(s.from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, id, err := s.client.Send(sendCtx, message)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	s.log.Info("email sent", zap.String("to", msg.To), zap.String("message_id", id))
	return nil
}

// SESSender sends email through Amazon SES v2.
type SESSender struct {
	client *sesv2.Client
	from   string
	log    *zap.Logger
}

// NewSESSender loads AWS credentials from the default chain.
func NewSESSender(ctx context.Context, region, from string, log *zap.Logger) (*SESSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(cfg), from, log), nil
}

func NewSESSenderWithClient(client *sesv2.Client, from string, log *zap.Logger) *SESSender {
	return &SESSender{client: client, from: from, log: log.Named("mail.ses")}
}

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	body := &sestypes.Body{Text: &sestypes.Content{Data: aws.String(msg.Text)}}
	if msg.HTML != "" {
		body.Html = &sestypes.Content{Data: aws.String(msg.HTML)}
	}
	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject)},
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	s.log.Info("email sent", zap.String("to", msg.To), zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("mail.log")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.log.Info("email send (log transport)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text))
	return nil
}
