package deploy

import (
	"os"
	"os/user"
)

// Default identity when nothing in the environment names an operator.
const (
	defaultActor   = "switchyard"
	defaultTrigger = "api"
)

// actorEnvVars is the lookup chain for the operator name.
var actorEnvVars = []string{
	"DEPLOY_ACTOR",
	"DEPLOY_REQUESTER",
	"GITHUB_ACTOR",
	"USER",
}

// emailEnvVars is the lookup chain for the operator email.
var emailEnvVars = []string{
	"DEPLOY_ACTOR_EMAIL",
	"DEPLOY_REQUESTER_EMAIL",
	"GITHUB_ACTOR_EMAIL",
	"EMAIL",
}

// ResolveActor returns the operator identity for task metadata:
// the first non-empty env var in the chain, then the OS login name,
// then a synthetic default.
func ResolveActor() string {
	for _, key := range actorEnvVars {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return defaultActor
}

// ResolveRequester returns who asked for the operation, falling back to
// the actor.
func ResolveRequester() string {
	if value := os.Getenv("DEPLOY_REQUESTER"); value != "" {
		return value
	}
	return ResolveActor()
}

// ResolveActorEmail returns the operator email, or a synthetic local
// address derived from the actor.
func ResolveActorEmail() string {
	for _, key := range emailEnvVars {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ResolveActor() + "@localhost"
}

// ResolveTrigger names what initiated the operation.
func ResolveTrigger() string {
	if value := os.Getenv("DEPLOY_TRIGGER"); value != "" {
		return value
	}
	return defaultTrigger
}
