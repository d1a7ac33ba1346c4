/*
Package storage persists the bucket/oplog model (spec.md §3) on top of
database/sql and mattn/go-sqlite3, the way warren's BoltStore persists
cluster state on top of bbolt: one Adapter wrapping a *sql.DB, with one
method per storage operation the sync engine needs, each running inside the
caller-supplied transaction.
*/
package storage
