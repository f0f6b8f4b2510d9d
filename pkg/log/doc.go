/*
Package log provides structured logging for the orchestrator using zerolog.

The log package wraps zerolog to give JSON-structured logging with
component-specific child loggers, a configurable level, and helpers for
the contexts the orchestrator logs about most: a run, a plan, a guest, a
test.

# Usage

Initializing the Logger:

	import "github.com/cuemby/tmt/pkg/log"

	// JSON output (CI, machine consumption)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (interactive `tmt run`)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Context Loggers:

	planLog := log.WithPlan("/plans/smoke")
	planLog.Info().Msg("provision starting")

	guestLog := log.WithGuest("default-0")
	guestLog.Debug().Str("how", "container").Msg("guest ready")

	testLog := log.WithTest("/tests/basic")
	testLog.Info().Dur("duration", d).Msg("test finished")

Run log.txt:

Every run directory carries a log.txt. NewFileLogger returns a logger
that writes each entry both to the run's log.txt writer and to stdout.
WithPlan/WithGuest/WithTest derive from the global Logger, not from the
file logger, so entries logged through them do not reach log.txt.

	f, _ := os.OpenFile(filepath.Join(runDir, "log.txt"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	runLog := log.NewFileLogger(f, map[string]string{"run_id": runID})

# Log Levels

Debug is for development and troubleshooting — phase scheduling
decisions, environment composition, guest fact discovery. Info is the
default: plan/test/guest lifecycle transitions. Warn covers situations
like a missing optional environment file or a check that degraded
without failing the test. Error covers step failures. Fatal is reserved
for conditions that make the process unable to continue at all (e.g. the
run directory cannot be created).

# Do / Don't

Do use WithPlan/WithGuest/WithTest to carry context instead of
interpolating names into message strings. Do use .Err(err) rather than
.Str("error", err.Error()). Don't log test output directly through this
package — test stdout/stderr belongs in the test's own output.txt, not
the structured run log.
*/
package log
