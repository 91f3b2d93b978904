// Package scheduler runs the agent's background jobs (currently the daily
// seen-list reset and history prune) on cron- or interval-style schedules.
package scheduler
