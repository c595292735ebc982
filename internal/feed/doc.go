// Package feed fetches subscribed RSS/Atom feeds and reports the entries
// published since the last notified one.
//
// Entries keep the order the source publishes them in (newest first); nothing
// is re-sorted by date. The last notified entry is remembered as a
// (title, link) pair and found again by exact match on both fields.
package feed
