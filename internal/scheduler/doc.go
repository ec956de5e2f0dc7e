// Package scheduler is the trigger engine: it turns persisted "publish at
// time T" jobs into exactly-one execution at T.
//
// # Triggers
//
// Each armed job gets a calendar-based cron entry (second minute hour
// day-of-month month) computed from its fire time in the configured IANA
// zone. Calendar specs, unlike countdown timers, re-arm to the same absolute
// moment after a restart.
//
// # Lifecycle
//
// On Start the engine reconciles against the job store: PENDING jobs in the
// future are re-armed; jobs overdue within the grace window run immediately;
// anything older is marked EXPIRED without execution. A fired or cancelled
// entry is removed from the registry under the same mutex that guards
// arming, so a job can never execute twice or execute after cancellation.
//
// # Execution
//
// When an entry fires the injected Runner executes the job on the entry's
// own goroutine and returns an Outcome, which the engine reconciles back to
// the store as the job's terminal status. A failed run is terminal (ERROR);
// the engine never re-fires a consumed trigger.
package scheduler
