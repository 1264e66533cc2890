package cancel

import "strings"

// Detection is a heuristic verdict: a state with a confidence and the rule
// that produced it.
type Detection struct {
	State      State
	Confidence float64
	Reason     string
}

// Rule is one URL/text match. Rules are evaluated in order; first match wins.
// URLContains and TextContains must all match (empty slices match anything);
// TextContainsAny matches if any member is present.
type Rule struct {
	URLContains     []string
	TextContains    []string
	TextContainsAny []string
	State           State
	Confidence      float64
	Reason          string
}

func (r Rule) matches(url, text string) bool {
	for _, s := range r.URLContains {
		if !strings.Contains(url, s) {
			return false
		}
	}
	for _, s := range r.TextContains {
		if !strings.Contains(text, s) {
			return false
		}
	}
	if len(r.TextContainsAny) > 0 {
		found := false
		for _, s := range r.TextContainsAny {
			if strings.Contains(text, s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Heuristic maps a page to a state with fast URL/text rules. Pure (no I/O),
// so it serves both as the first-pass detector and as the post-action
// validator. Services may override the rules table.
type Heuristic struct {
	rules []Rule
}

// DefaultRules is the generic subscription-flow rules table.
func DefaultRules() []Rule {
	return []Rule{
		{URLContains: []string{"/login"}, State: StateLoginRequired, Confidence: 0.95,
			Reason: "url contains /login"},
		{URLContains: []string{"/account"}, TextContains: []string{"cancel membership"},
			State: StateAccountActive, Confidence: 0.85,
			Reason: "account page with cancel membership link"},
		{TextContains: []string{"restart membership"}, State: StateAccountCancelled, Confidence: 0.85,
			Reason: "restart membership offer implies already cancelled"},
		{TextContainsAny: []string{"billed through", "itunes", "google play", "t-mobile"},
			State: StateThirdPartyBilling, Confidence: 0.80,
			Reason: "third-party billing provider mentioned"},
		{TextContainsAny: []string{"before you go", "special offer"},
			State: StateRetentionOffer, Confidence: 0.75,
			Reason: "retention offer language"},
		{TextContainsAny: []string{"why are you leaving", "reason for cancelling"},
			State: StateExitSurvey, Confidence: 0.75,
			Reason: "exit survey question"},
		{TextContains: []string{"finish cancellation"}, State: StateFinalConfirmation, Confidence: 0.80,
			Reason: "finish cancellation button"},
		{TextContains: []string{"cancelled", "subscription"}, State: StateComplete, Confidence: 0.80,
			Reason: "cancellation confirmed"},
	}
}

// NewHeuristic builds an interpreter; nil rules selects the defaults.
func NewHeuristic(rules []Rule) *Heuristic {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Heuristic{rules: rules}
}

// Interpret evaluates the rules against a lowercased URL and page text.
// No match yields UNKNOWN with zero confidence.
func (h *Heuristic) Interpret(url, visibleText string) Detection {
	url = strings.ToLower(url)
	text := strings.ToLower(visibleText)

	for _, rule := range h.rules {
		if rule.matches(url, text) {
			return Detection{State: rule.State, Confidence: rule.Confidence, Reason: rule.Reason}
		}
	}
	return Detection{State: StateUnknown, Confidence: 0, Reason: "no rule matched"}
}
