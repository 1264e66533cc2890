package cancel

import (
	"context"
	"strings"

	"github.com/subterminator/agents/pkg/browser"
)

func init() {
	Register(&Netflix{})
}

// Netflix is the built-in service definition for netflix.com.
type Netflix struct{}

func (n *Netflix) Name() string { return "netflix" }

func (n *Netflix) EntryURL() string { return "https://www.netflix.com/cancelplan" }

// Rules extends the defaults with Netflix-specific page markers.
func (n *Netflix) Rules() []Rule {
	rules := []Rule{
		{URLContains: []string{"/cancelplan"}, TextContains: []string{"finish cancellation"},
			State: StateFinalConfirmation, Confidence: 0.90,
			Reason: "cancelplan page with finish cancellation button"},
		{URLContains: []string{"/youraccount"}, TextContains: []string{"cancel membership"},
			State: StateAccountActive, Confidence: 0.90,
			Reason: "netflix account page with cancel membership link"},
	}
	return append(rules, DefaultRules()...)
}

// Fallback gives each actionable state a hardcoded selector path so a run can
// still finish when the planner is unreachable.
func (n *Netflix) Fallback(state State) FallbackHandler {
	switch state {
	case StateAccountActive:
		return func(ctx context.Context, d browser.Driver) error {
			if err := d.Click(ctx,
				`a[data-uia="action-cancel-plan"]`,
				`button[data-uia="action-cancel-plan"]`); err == nil {
				return nil
			}
			return d.ClickByText(ctx, "Cancel Membership", false)
		}
	case StateRetentionOffer:
		return func(ctx context.Context, d browser.Driver) error {
			if err := d.Click(ctx, `button[data-uia="action-decline-offer"]`); err == nil {
				return nil
			}
			return d.ClickByText(ctx, "Continue to Cancel", false)
		}
	case StateExitSurvey:
		return func(ctx context.Context, d browser.Driver) error {
			if err := d.Click(ctx, `button[data-uia="action-skip-survey"]`); err == nil {
				return nil
			}
			return d.ClickByText(ctx, "Skip", false)
		}
	case StateFinalConfirmation:
		return func(ctx context.Context, d browser.Driver) error {
			if err := d.Click(ctx, `button[data-uia="action-finish-cancellation"]`); err == nil {
				return nil
			}
			return d.ClickByText(ctx, "Finish Cancellation", false)
		}
	}
	return nil
}

// BillingAdvice names the external provider that owns the subscription.
func (n *Netflix) BillingAdvice(pageText string) string {
	text := strings.ToLower(pageText)
	switch {
	case strings.Contains(text, "itunes") || strings.Contains(text, "apple"):
		return "Billing is handled by Apple. Cancel via Settings > Apple ID > Subscriptions on an Apple device, or via the App Store."
	case strings.Contains(text, "google play"):
		return "Billing is handled by Google Play. Cancel via play.google.com/store/account/subscriptions."
	case strings.Contains(text, "t-mobile"):
		return "Billing is bundled with a T-Mobile plan. Cancel through the T-Mobile account portal or customer support."
	default:
		return "Billing is handled by a third party. Cancel through the provider that charges the subscription."
	}
}
