package workflow

// Routing label prefixes persisted on issues for downstream workers.
const (
	ReviewHumanLabel = "review:human"
	ReviewAgentLabel = "review:agent"
	TestSkipLabel    = "test:skip"
	TestHumanLabel   = "test:human"
	TestAgentLabel   = "test:agent"

	ReviewLabelPrefix = "review:"
	TestLabelPrefix   = "test:"
	OwnerLabelPrefix  = "owner:"
	NotifyLabelPrefix = "notify:"
)

// SeniorLevel is the competence level that earns human review under the
// auto policy.
const SeniorLevel = "senior"

// ResolveReviewRouting picks the review routing label for a dispatch.
// Auto routes senior work to humans and everything else to agents.
func ResolveReviewRouting(policy ReviewPolicy, level string) string {
	switch policy {
	case PolicyHuman:
		return ReviewHumanLabel
	case PolicyAgent:
		return ReviewAgentLabel
	default:
		if level == SeniorLevel {
			return ReviewHumanLabel
		}
		return ReviewAgentLabel
	}
}

// ResolveTestRouting picks the test routing label. Skip is a valid test
// policy; otherwise routing resolves identically to review routing.
func ResolveTestRouting(policy ReviewPolicy, level string) string {
	if policy == PolicySkip {
		return TestSkipLabel
	}
	switch policy {
	case PolicyHuman:
		return TestHumanLabel
	case PolicyAgent:
		return TestAgentLabel
	default:
		if level == SeniorLevel {
			return TestHumanLabel
		}
		return TestAgentLabel
	}
}
