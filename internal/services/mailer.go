// internal/services/mailer.go
package services

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/popup-portal/internal/config"
)

type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
}

// Mailer delivers one rendered email. Retries, if any, are the mailer's own business.
type Mailer interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

func NewMailer(cfg *config.Config, log logrus.FieldLogger) (Mailer, error) {
	switch cfg.Email.Provider {
	case "ses":
		return NewSESMailer(cfg)
	case "smtp":
		return &SMTPMailer{config: cfg.Email}, nil
	default:
		return NewLogMailer(log), nil
	}
}

// LogMailer only logs; used in development and tests.
type LogMailer struct {
	log logrus.FieldLogger
}

func NewLogMailer(log logrus.FieldLogger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg *EmailMessage) error {
	m.log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email would be sent")
	return nil
}

type SMTPMailer struct {
	config config.EmailConfig
}

func (m *SMTPMailer) Send(ctx context.Context, msg *EmailMessage) error {
	auth := smtp.PlainAuth("", m.config.SMTPUsername, m.config.SMTPPassword, m.config.SMTPHost)

	body := []byte(fmt.Sprintf(
		"From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		m.config.FromName, m.config.FromEmail, msg.To, msg.Subject, msg.HTMLBody,
	))

	addr := fmt.Sprintf("%s:%s", m.config.SMTPHost, m.config.SMTPPort)
	return smtp.SendMail(addr, auth, m.config.FromEmail, []string{msg.To}, body)
}

type SESMailer struct {
	client sesiface.SESAPI
	config config.EmailConfig
}

func NewSESMailer(cfg *config.Config) (*SESMailer, error) {
	awsConfig := &aws.Config{Region: aws.String(cfg.AWS.Region)}
	if cfg.AWS.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, "")
	}

	sess, err := awssession.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &SESMailer{client: ses.New(sess), config: cfg.Email}, nil
}

func NewSESMailerWithClient(client sesiface.SESAPI, cfg config.EmailConfig) *SESMailer {
	return &SESMailer{client: client, config: cfg}
}

func (m *SESMailer) Send(ctx context.Context, msg *EmailMessage) error {
	input := &ses.SendEmailInput{
		Source: aws.String(fmt.Sprintf("%s <%s>", m.config.FromName, m.config.FromEmail)),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(msg.To)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(msg.Subject)},
			Body: &ses.Body{
				Html: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(msg.HTMLBody)},
			},
		},
	}
	if m.config.ReplyTo != "" {
		input.ReplyToAddresses = []*string{aws.String(m.config.ReplyTo)}
	}

	if _, err := m.client.SendEmailWithContext(ctx, input); err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}
	return nil
}
