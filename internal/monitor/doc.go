// Package monitor turns configured monitors into periodic queue entries.
//
// The scheduler is trigger-only: each cron entry builds nothing but an
// EnqueuePriority call. Execution, rate limiting and retries (there are none)
// belong to the check queue.
package monitor
