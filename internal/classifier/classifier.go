// Package classifier turns remote processor failures into gateway error kinds.
//
// Classification is an ordered table of govaluate expressions evaluated over
// the fields of an adapter.RemoteError; the first matching rule decides the
// kind. Errors that are already classified pass through untouched, so an
// error is classified exactly once no matter how many layers it crosses.
package classifier

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/stripe-gateway/internal/adapter"
	"github.com/yourorg/stripe-gateway/internal/gatewayerr"
)

// Rule maps a boolean expression over type, code, decline_code and status to a kind.
// An empty Message reuses the processor's message.
type Rule struct {
	ID         string
	Expression string
	Kind       gatewayerr.Kind
	Message    string
}

type compiledRule struct {
	Rule
	expr *govaluate.EvaluableExpression
}

// Classifier evaluates rules in order.
type Classifier struct {
	rules []compiledRule
}

// Result codes that make a failed charge or refund a hard decline.
var hardResultCodes = map[string]bool{
	"processing_error": true,
	"missing":          true,
	"card_declined":    true,
}

// DefaultRules is the rule table used by the gateway.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "card_not_supported",
			Expression: "type == 'card_error' && decline_code == 'card_not_supported'",
			Kind:       gatewayerr.KindSoftDecline,
		},
		{
			ID:         "authentication_required",
			Expression: "type == 'card_error' && (code == 'authentication_required' || decline_code == 'authentication_required')",
			Kind:       gatewayerr.KindSoftDecline,
		},
		{
			ID:         "card_error",
			Expression: "type == 'card_error'",
			Kind:       gatewayerr.KindHardDecline,
		},
		{
			ID:         "rate_limited",
			Expression: "status == 429 || code == 'rate_limit'",
			Kind:       gatewayerr.KindGateway,
			Message:    "Too many requests.",
		},
		{
			ID:         "authentication_failed",
			Expression: "status == 401",
			Kind:       gatewayerr.KindGateway,
			Message:    "Authentication with the payment processor failed.",
		},
		{
			ID:         "invalid_request",
			Expression: "type == 'invalid_request_error' || type == 'idempotency_error'",
			Kind:       gatewayerr.KindInvalidRequest,
		},
		{
			ID:         "connection",
			Expression: "type == 'api_connection_error'",
			Kind:       gatewayerr.KindGateway,
			Message:    "Could not communicate with the payment processor.",
		},
	}
}

// NewClassifier compiles rules. Rules with empty or invalid expressions are rejected.
func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("classifier: rule ID '%s' has an empty expression", r.ID)
		}
		if r.Kind < gatewayerr.KindInvalidRequest || r.Kind > gatewayerr.KindGateway {
			return nil, fmt.Errorf("classifier: rule ID '%s' has unknown kind %d", r.ID, r.Kind)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("classifier: failed to compile rule ID '%s': %w", r.ID, err)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, expr: expr})
	}
	return c, nil
}

// NewDefaultClassifier compiles DefaultRules. It panics if they do not compile.
func NewDefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns err as a *gatewayerr.Error. Nil stays nil.
func (c *Classifier) Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := gatewayerr.KindOf(err); ok {
		return err
	}

	var remote *adapter.RemoteError
	if !errors.As(err, &remote) {
		return gatewayerr.Gateway("%s", err.Error()).Wrap(err)
	}

	params := map[string]interface{}{
		"type":         remote.Type,
		"code":         remote.Code,
		"decline_code": remote.DeclineCode,
		"status":       float64(remote.HTTPStatus),
	}
	for _, r := range c.rules {
		matched, evalErr := r.expr.Evaluate(params)
		if evalErr != nil {
			continue
		}
		if ok, isBool := matched.(bool); isBool && ok {
			return c.build(r.Kind, r.Message, remote)
		}
	}
	return c.build(gatewayerr.KindGateway, "", remote)
}

func (c *Classifier) build(kind gatewayerr.Kind, message string, remote *adapter.RemoteError) error {
	if message == "" {
		message = remote.Message
	}
	if message == "" {
		message = http.StatusText(remote.HTTPStatus)
	}
	if message == "" {
		message = remote.Type
	}
	code := remote.DeclineCode
	if code == "" {
		code = remote.Code
	}
	return (&gatewayerr.Error{Kind: kind, Message: message}).WithCode(code).Wrap(remote)
}

// CheckResult inspects a decline-bearing result such as a refund or charge.
// A succeeded or pending result is nil.
func (c *Classifier) CheckResult(status, failureCode, failureMessage string) error {
	switch status {
	case "succeeded", "pending":
		return nil
	}
	message := failureMessage
	if message == "" {
		message = fmt.Sprintf("The transaction failed with status %q.", status)
	}
	if hardResultCodes[failureCode] {
		return gatewayerr.HardDecline("%s", message).WithCode(failureCode)
	}
	return gatewayerr.SoftDecline("%s", message).WithCode(failureCode)
}
