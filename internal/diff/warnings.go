package diff

// WarningContext carries the non-diff facts that contribute warnings.
type WarningContext struct {
	// EmptyDiff is set when the preview found no changes to ship.
	EmptyDiff bool

	// TaskHasFailureContext is set when the referenced task recorded a
	// failure_context.
	TaskHasFailureContext bool

	// TaskHasErrorLog is set when the referenced task carries an
	// error_log.
	TaskHasErrorLog bool
}

// Always-on reminders appended to every warning list.
const (
	warnSmokeTests    = "run smoke tests before cutover"
	warnObservability = "observability checks are manual until probes are automated"
)

// BuildWarnings derives the ordered, deduplicated warning list for a
// preview. The list is never empty: the smoke-test reminder is always
// present.
func BuildWarnings(stats *Stats, wctx WarningContext) []string {
	var warnings []string
	add := func(w string) {
		for _, existing := range warnings {
			if existing == w {
				return
			}
		}
		warnings = append(warnings, w)
	}

	if stats != nil {
		if stats.LockfileChanged {
			add("dependency lockfile changed: expect a longer install step")
		}
		if stats.EnvChanged {
			add("environment or secrets files changed: verify runtime configuration before cutover")
		}
		if stats.ConfigChanged {
			add("infra/deploy configuration changed: double-check service settings")
		}
		if stats.SensitiveChanged {
			add("sensitive files (keys/certs) changed: confirm nothing is exposed in the build output")
		}
		if stats.TestFilesChanged {
			add("test files changed: make sure the suite was run against this revision")
		}
		if stats.IsLargeDiff() {
			add("large diff (20+ files): consider splitting the release")
		}
	}

	if wctx.EmptyDiff {
		add("no changes detected between the last successful deploy and HEAD")
	}
	if wctx.TaskHasFailureContext {
		add("referenced task recorded a failure context: review it before retrying")
	}
	if wctx.TaskHasErrorLog {
		add("referenced task carries an error log")
	}

	add(warnSmokeTests)
	add(warnObservability)

	return warnings
}
