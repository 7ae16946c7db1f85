package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveActorPrecedence(t *testing.T) {
	t.Setenv("DEPLOY_ACTOR", "release-bot")
	t.Setenv("GITHUB_ACTOR", "ci-user")
	t.Setenv("USER", "login-user")

	assert.Equal(t, "release-bot", ResolveActor())
}

func TestResolveActorFallbackChain(t *testing.T) {
	t.Setenv("DEPLOY_ACTOR", "")
	t.Setenv("DEPLOY_REQUESTER", "")
	t.Setenv("GITHUB_ACTOR", "ci-user")

	assert.Equal(t, "ci-user", ResolveActor())
}

func TestResolveActorNeverEmpty(t *testing.T) {
	t.Setenv("DEPLOY_ACTOR", "")
	t.Setenv("DEPLOY_REQUESTER", "")
	t.Setenv("GITHUB_ACTOR", "")
	t.Setenv("USER", "")

	assert.NotEmpty(t, ResolveActor(), "falls back to OS login or synthetic default")
}

func TestResolveRequester(t *testing.T) {
	t.Setenv("DEPLOY_REQUESTER", "oncall")
	assert.Equal(t, "oncall", ResolveRequester())

	t.Setenv("DEPLOY_REQUESTER", "")
	t.Setenv("DEPLOY_ACTOR", "alice")
	assert.Equal(t, "alice", ResolveRequester())
}

func TestResolveActorEmail(t *testing.T) {
	t.Setenv("DEPLOY_ACTOR_EMAIL", "ops@example.com")
	assert.Equal(t, "ops@example.com", ResolveActorEmail())

	t.Setenv("DEPLOY_ACTOR_EMAIL", "")
	t.Setenv("DEPLOY_REQUESTER_EMAIL", "")
	t.Setenv("GITHUB_ACTOR_EMAIL", "")
	t.Setenv("EMAIL", "")
	t.Setenv("DEPLOY_ACTOR", "alice")
	assert.Equal(t, "alice@localhost", ResolveActorEmail())
}

func TestResolveTrigger(t *testing.T) {
	t.Setenv("DEPLOY_TRIGGER", "")
	assert.Equal(t, defaultTrigger, ResolveTrigger())

	t.Setenv("DEPLOY_TRIGGER", "cron")
	assert.Equal(t, "cron", ResolveTrigger())
}
