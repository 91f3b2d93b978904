// Package storage persists the agent's operational data: delivery history,
// web-push subscriptions, and the seen-key set behind the "new" flag.
//
// Two drivers:
//   - "file": dependency-free (JSON Lines log + snapshot/journal)
//   - "sqlite": SQLite database file (build tag "sqlite")
package storage
