// Package recovery runs the periodic sweep that keeps durable executions
// moving after crashes and transient faults.
//
// Each sweep resumes running executions whose last update is older than
// the configured staleness threshold, then retries dead letters whose
// backoff has elapsed. Sweeps are driven by a cron expression parsed with
// robfig/cron, for example "@every 30s" or "*/5 * * * *".
//
//	s, err := recovery.NewScheduler(runner, dlqService, extensions,
//	    recovery.WithSchedule(cfg.RecoverySchedule),
//	    recovery.WithStaleAfter(cfg.StaleAfter),
//	)
//	s.Start(ctx)
//	defer s.Stop(ctx)
package recovery
