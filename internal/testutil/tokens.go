// Package testutil provides shared fakes and fixtures for devclaw tests.
package testutil

// Safe test tokens that won't trigger a forge's push protection.
// Intentionally simple and obviously fake to avoid secret scanning.
const (
	// FakeGitHubToken is a safe test token for GitHub API authentication.
	FakeGitHubToken = "test-github-token"

	// FakeGitLabToken is a safe test token for GitLab API authentication.
	FakeGitLabToken = "test-gitlab-token"

	// FakeTelegramBotToken is a safe test token for the Telegram bot API.
	FakeTelegramBotToken = "test-telegram-bot-token"

	// FakeGatewayToken is a safe test bearer token for the session gateway.
	FakeGatewayToken = "test-gateway-token"
)
