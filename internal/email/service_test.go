package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspensionTemplateRendering(t *testing.T) {
	html, err := renderTemplate(suspensionTemplate, SuspensionData{
		CustomerName: "Jane Doe",
		PlanName:     "Pro Monthly",
		Amount:       "29.00",
		Currency:     "USD",
		FailureCount: 3,
		SupportEmail: "support@flowbill.io",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Hi Jane Doe,")
	assert.Contains(t, html, "<strong>Pro Monthly</strong>")
	assert.Contains(t, html, "3 consecutive failed payment attempts")
	assert.Contains(t, html, "29.00 USD")
	assert.Contains(t, html, "support@flowbill.io")
}

func TestPaymentFailedTemplateRendering(t *testing.T) {
	html, err := renderTemplate(paymentFailedTemplate, PaymentFailedData{
		CustomerName:      "Jane Doe",
		PlanName:          "Pro Monthly",
		Amount:            "29.00",
		Currency:          "USD",
		ErrorMessage:      "insufficient funds",
		AttemptsRemaining: 2,
		SupportEmail:      "support@flowbill.io",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "insufficient funds")
	assert.Contains(t, html, "2 attempt(s) remain")
}

func TestTemplateEscapesCustomerInput(t *testing.T) {
	html, err := renderTemplate(suspensionTemplate, SuspensionData{
		CustomerName: "<script>alert(1)</script>",
		PlanName:     "Pro",
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}
