// Package janitor schedules background maintenance for a tokenguard
// deployment: sweeping dead entries out of per-user indexes and purging
// expired rows from the durable blacklist.
//
// Jobs are plain cron specs handled by robfig/cron. Each run gets its own
// timeout and logs a one-line summary. Failures are logged and retried on
// the next tick; nothing here changes validation semantics, since expired
// records disappear from Redis on their own.
package janitor
