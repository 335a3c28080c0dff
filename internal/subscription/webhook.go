package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/visagelab/facegate/internal/apierror"
)

// WebhookEvent is a verified payment-provider event.
type WebhookEvent struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`
	PlanCode string `json:"plan_code,omitempty"`
}

// Payment event types understood by the gateway.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// webhookTargets maps event types to the state-machine target they drive.
var webhookTargets = map[string]string{
	EventPaymentCaptured:       StateActive,
	EventPaymentFailed:         StatePastDue,
	EventSubscriptionActivated: StateActive,
	EventSubscriptionCancelled: StateCanceled,
}

// VerifyWebhookSignature checks the hex-encoded HMAC-SHA256 of body against
// signature using a constant-time comparison.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apierror.Security(apierror.CodeInvalidCredentials, "invalid webhook signature")
	}
	return nil
}

// ParseWebhook verifies the signature and decodes the event. Verification
// happens before any parsing of the payload.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	if err := VerifyWebhookSignature(secret, body, signature); err != nil {
		return WebhookEvent{}, err
	}
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return WebhookEvent{}, apierror.Validation(apierror.CodeInvalidInput, "malformed webhook payload").WithCause(err)
	}
	if evt.TenantID == "" {
		return WebhookEvent{}, apierror.Validation(apierror.CodeInvalidInput, "webhook event missing tenant identifier")
	}
	return evt, nil
}

// TargetState resolves the state-machine target for an event type.
func (e WebhookEvent) TargetState() (string, error) {
	target, ok := webhookTargets[e.Type]
	if !ok {
		return "", fmt.Errorf("unhandled webhook event type %q", e.Type)
	}
	return target, nil
}
