package main

import (
	"context"
	"net/url"

	"github.com/subterminator/agents/pkg/browser"
	"github.com/subterminator/agents/pkg/cancel"
)

func init() {
	cancel.Register(&mockService{})
}

// mockService is a built-in target for exercising the engine end to end
// without a real browser: `subterminator --target mock mock`.
type mockService struct{}

func (m *mockService) Name() string { return "mock" }

func (m *mockService) EntryURL() string { return "https://mock.local/account" }

func (m *mockService) Rules() []cancel.Rule { return cancel.DefaultRules() }

func (m *mockService) Fallback(state cancel.State) cancel.FallbackHandler {
	texts := map[cancel.State]string{
		cancel.StateAccountActive:     "Cancel Membership",
		cancel.StateRetentionOffer:    "Continue to Cancel",
		cancel.StateExitSurvey:        "Skip",
		cancel.StateFinalConfirmation: "Finish Cancellation",
	}
	text, ok := texts[state]
	if !ok {
		return nil
	}
	return func(ctx context.Context, d browser.Driver) error {
		return d.ClickByText(ctx, text, false)
	}
}

func (m *mockService) BillingAdvice(string) string {
	return "Billing is handled by a third party. Cancel through the provider that charges the subscription."
}

// mockSite scripts a five-page cancellation flow on the entry URL's host.
// Pages live under /account so the default heuristic rules detect them for any
// service; the entry URL itself aliases to the account page, emulating the
// redirect a site performs when a cancel deep link needs account context.
func mockSite(entryURL string) *browser.MockDriver {
	origin := "https://mock.local"
	if u, err := url.Parse(entryURL); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	account := origin + "/account"
	offer := account + "/offer"
	survey := account + "/survey"
	confirm := account + "/confirm"
	done := account + "/done"

	d := browser.NewMockDriver(
		&browser.MockPage{
			URL:  account,
			Text: "Your Account\nPlan details\nCancel Membership",
			Clicks: map[string]string{
				`css:a[data-uia="action-cancel-plan"]`:      offer,
				`css:button[data-uia="action-cancel-plan"]`: offer,
				"text:Cancel Membership":                    offer,
				"*":                                         offer,
			},
		},
		&browser.MockPage{
			URL:  offer,
			Text: "Before you go, here is a special offer: one month at half price.",
			Clicks: map[string]string{
				`css:button[data-uia="action-decline-offer"]`: survey,
				"text:Continue to Cancel":                     survey,
				"*":                                           survey,
			},
		},
		&browser.MockPage{
			URL:  survey,
			Text: "Why are you leaving? Tell us your reason for cancelling.",
			Clicks: map[string]string{
				`css:button[data-uia="action-skip-survey"]`: confirm,
				"text:Skip": confirm,
				"*":         confirm,
			},
		},
		&browser.MockPage{
			URL:  confirm,
			Text: "Last step. Click Finish Cancellation to end your subscription.",
			Clicks: map[string]string{
				`css:button[data-uia="action-finish-cancellation"]`: done,
				"text:Finish Cancellation":                          done,
			},
		},
		&browser.MockPage{
			URL:  done,
			Text: "Your subscription has been cancelled. We are sorry to see you go.",
		},
	)
	d.Alias(entryURL, account)
	return d
}
