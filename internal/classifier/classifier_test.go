package classifier

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
)

func TestNewClassifier_CompilationError(t *testing.T) {
	_, err := NewClassifier([]Rule{
		{ID: "ok", Expression: "type == 'card_error'", Kind: gatewayerr.KindHardDecline},
		{ID: "broken", Expression: "type ==", Kind: gatewayerr.KindGateway},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile rule ID 'broken'")
}

func TestNewClassifier_RejectsBadRules(t *testing.T) {
	_, err := NewClassifier([]Rule{{ID: "empty", Kind: gatewayerr.KindGateway}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has an empty expression")

	_, err = NewClassifier([]Rule{{ID: "nokind", Expression: "status == 1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestClassify_DefaultRules(t *testing.T) {
	c := NewDefaultClassifier()

	tests := []struct {
		name     string
		err      *adapter.RemoteError
		wantKind gatewayerr.Kind
		wantMsg  string
		wantCode string
	}{
		{
			name:     "card_not_supported is soft",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeCard, Code: "card_declined", DeclineCode: "card_not_supported", Message: "Your card is not supported."},
			wantKind: gatewayerr.KindSoftDecline,
			wantMsg:  "Your card is not supported.",
			wantCode: "card_not_supported",
		},
		{
			name:     "authentication_required is soft",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeCard, Code: "authentication_required", Message: "Authentication required."},
			wantKind: gatewayerr.KindSoftDecline,
			wantMsg:  "Authentication required.",
			wantCode: "authentication_required",
		},
		{
			name:     "other card errors are hard",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeCard, Code: "card_declined", DeclineCode: "insufficient_funds", Message: "Your card has insufficient funds.", HTTPStatus: http.StatusPaymentRequired},
			wantKind: gatewayerr.KindHardDecline,
			wantMsg:  "Your card has insufficient funds.",
			wantCode: "insufficient_funds",
		},
		{
			name:     "rate limit is a gateway exception",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeInvalidRequest, Code: "rate_limit", Message: "slow down", HTTPStatus: http.StatusTooManyRequests},
			wantKind: gatewayerr.KindGateway,
			wantMsg:  "Too many requests.",
			wantCode: "rate_limit",
		},
		{
			name:     "bad credentials are a gateway exception",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeInvalidRequest, Message: "Invalid API Key provided", HTTPStatus: http.StatusUnauthorized},
			wantKind: gatewayerr.KindGateway,
			wantMsg:  "Authentication with the payment processor failed.",
		},
		{
			name:     "invalid request",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeInvalidRequest, Code: "resource_missing", Message: "No such payment_method: 'pm_x'", HTTPStatus: http.StatusNotFound},
			wantKind: gatewayerr.KindInvalidRequest,
			wantMsg:  "No such payment_method: 'pm_x'",
			wantCode: "resource_missing",
		},
		{
			name:     "connection failure",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeAPIConnection, Message: "dial tcp: refused"},
			wantKind: gatewayerr.KindGateway,
			wantMsg:  "Could not communicate with the payment processor.",
		},
		{
			name:     "api error falls through",
			err:      &adapter.RemoteError{Type: adapter.ErrorTypeAPI, Message: "internal", HTTPStatus: http.StatusInternalServerError},
			wantKind: gatewayerr.KindGateway,
			wantMsg:  "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(fmt.Errorf("stripe: call: %w", tt.err))
			var gerr *gatewayerr.Error
			require.True(t, errors.As(got, &gerr))
			assert.Equal(t, tt.wantKind, gerr.Kind)
			assert.Equal(t, tt.wantMsg, gerr.Message)
			assert.Equal(t, tt.wantCode, gerr.Code)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_PassThroughAndUnknown(t *testing.T) {
	c := NewDefaultClassifier()

	assert.NoError(t, c.Classify(nil))

	already := gatewayerr.SoftDecline("needs authentication")
	assert.Same(t, already, c.Classify(already))

	plain := errors.New("something odd")
	got := c.Classify(plain)
	assert.True(t, gatewayerr.IsGateway(got))
	assert.ErrorIs(t, got, plain)
}

func TestClassify_CustomRuleOrder(t *testing.T) {
	c, err := NewClassifier([]Rule{
		{ID: "all_cards_soft", Expression: "type == 'card_error'", Kind: gatewayerr.KindSoftDecline, Message: "Try another card."},
	})
	require.NoError(t, err)

	got := c.Classify(&adapter.RemoteError{Type: adapter.ErrorTypeCard, Code: "card_declined"})
	assert.True(t, gatewayerr.IsSoftDecline(got))
	assert.Equal(t, "Try another card.", gatewayerr.MessageOf(got))

	got = c.Classify(&adapter.RemoteError{Type: adapter.ErrorTypeInvalidRequest})
	assert.True(t, gatewayerr.IsGateway(got), "no matching rule falls back to a gateway exception")
}

func TestCheckResult(t *testing.T) {
	c := NewDefaultClassifier()

	assert.NoError(t, c.CheckResult("succeeded", "", ""))
	assert.NoError(t, c.CheckResult("pending", "", ""))

	for _, code := range []string{"processing_error", "missing", "card_declined"} {
		err := c.CheckResult("failed", code, "Refund failed.")
		assert.True(t, gatewayerr.IsHardDecline(err), code)
		assert.Equal(t, "Refund failed.", gatewayerr.MessageOf(err))
	}

	err := c.CheckResult("failed", "expired_or_canceled_card", "")
	assert.True(t, gatewayerr.IsSoftDecline(err))
	assert.Contains(t, gatewayerr.MessageOf(err), "failed")
}
