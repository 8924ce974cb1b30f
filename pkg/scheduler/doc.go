// Package scheduler provides task admission, promotion, and retention for
// the ledoxide package.
//
// This package contains:
//   - Scheduler: pending/active/finished queues under a concurrency ceiling
//   - The Executor contract invoked once per promoted task
//   - Overflow of the oldest finished records into the swap store
//   - A cron-driven sweeper that retries failed overflow appends
//
// Most users should import the root package github.com/zhufucdev/ledoxide
// instead of this package directly.
package scheduler
