/*
Package log wraps zerolog with syncbase's conventions: a package-global
logger configured once via Init, and With* constructors for the fields
that recur across the sync engine (bucket, priority, op id).

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	bl := log.WithBucket("user_todos")
	bl.Info().Int64("op_id", 42).Msg("applied put")
*/
package log
