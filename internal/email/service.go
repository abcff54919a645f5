package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// Sender delivers lifecycle notices to customers. The billing processor
// depends on this interface so tests can capture sends without a mail
// provider.
type Sender interface {
	SendSuspensionNotice(ctx context.Context, toEmail string, data SuspensionData) error
	SendPaymentFailedNotice(ctx context.Context, toEmail string, data PaymentFailedData) error
}

type EmailService struct {
	client    *resend.Client
	logger    *zap.Logger
	fromEmail string
	fromName  string
}

func NewEmailService(apiKey string, fromEmail string, fromName string, logger *zap.Logger) *EmailService {
	return &EmailService{
		client:    resend.NewClient(apiKey),
		logger:    logger,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// SuspensionData fills the suspension notice template.
type SuspensionData struct {
	CustomerName string
	PlanName     string
	Amount       string
	Currency     string
	FailureCount int
	SupportEmail string
}

// PaymentFailedData fills the payment failure notice template.
type PaymentFailedData struct {
	CustomerName      string
	PlanName          string
	Amount            string
	Currency          string
	ErrorMessage      string
	AttemptsRemaining int
	SupportEmail      string
}

var suspensionTemplate = template.Must(template.New("suspension").Parse(`
<p>Hi {{.CustomerName}},</p>
<p>Your <strong>{{.PlanName}}</strong> subscription has been suspended after
{{.FailureCount}} consecutive failed payment attempts of {{.Amount}} {{.Currency}}.</p>
<p>Please update your payment method to restore access. If you believe this is
a mistake, contact us at {{.SupportEmail}}.</p>
`))

var paymentFailedTemplate = template.Must(template.New("payment_failed").Parse(`
<p>Hi {{.CustomerName}},</p>
<p>We could not collect {{.Amount}} {{.Currency}} for your
<strong>{{.PlanName}}</strong> subscription: {{.ErrorMessage}}.</p>
<p>We will retry automatically. {{.AttemptsRemaining}} attempt(s) remain before
the subscription is suspended. Questions? Contact {{.SupportEmail}}.</p>
`))

// SendSuspensionNotice tells the customer their subscription was suspended
// and why.
func (s *EmailService) SendSuspensionNotice(ctx context.Context, toEmail string, data SuspensionData) error {
	html, err := renderTemplate(suspensionTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to render suspension template: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail),
		To:      []string{toEmail},
		Subject: fmt.Sprintf("Your %s subscription has been suspended", data.PlanName),
		Html:    html,
		Headers: map[string]string{
			"X-Entity-Ref-ID": uuid.New().String(),
		},
		Tags: []resend.Tag{
			{Name: "category", Value: "billing"},
			{Name: "notice_type", Value: "suspension"},
		},
	}

	sent, err := s.client.Emails.Send(params)
	if err != nil {
		s.logger.Error("failed to send suspension notice",
			zap.Error(err),
			zap.String("to", toEmail))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("suspension notice sent",
		zap.String("email_id", sent.Id),
		zap.String("to", toEmail))
	return nil
}

// SendPaymentFailedNotice warns the customer that a billing attempt failed
// and retries remain.
func (s *EmailService) SendPaymentFailedNotice(ctx context.Context, toEmail string, data PaymentFailedData) error {
	html, err := renderTemplate(paymentFailedTemplate, data)
	if err != nil {
		return fmt.Errorf("failed to render payment failed template: %w", err)
	}

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail),
		To:      []string{toEmail},
		Subject: fmt.Sprintf("Payment failed for your %s subscription", data.PlanName),
		Html:    html,
		Headers: map[string]string{
			"X-Entity-Ref-ID": uuid.New().String(),
		},
		Tags: []resend.Tag{
			{Name: "category", Value: "billing"},
			{Name: "notice_type", Value: "payment_failed"},
		},
	}

	sent, err := s.client.Emails.Send(params)
	if err != nil {
		s.logger.Error("failed to send payment failed notice",
			zap.Error(err),
			zap.String("to", toEmail))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("payment failed notice sent",
		zap.String("email_id", sent.Id),
		zap.String("to", toEmail))
	return nil
}

func renderTemplate(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
