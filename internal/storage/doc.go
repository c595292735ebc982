// Package storage persists the watch list and the follow history.
//
// Tables:
//   - rss        feed subscriptions and their last-notified entry
//   - follow_log follow/unfollow history plus the single "meta" snapshot row
//   - repo       watched GitHub repositories and their latest release tag
//
// Drivers: "sqlite" (modernc.org/sqlite through sqlx) and "memory".
package storage
