package storage

import (
	"context"
	"database/sql"

	"github.com/cuemby/syncbase/pkg/syncerr"
	"github.com/google/uuid"
)

// EnsureClientID returns the locally generated client_id, creating one with
// google/uuid if it doesn't exist yet (spec.md §3, §9's client_id.rs
// supplement).
func EnsureClientID(ctx context.Context, a Adapter, tx *sql.Tx) (string, error) {
	if id, ok, err := a.ClientID(ctx, tx); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}
	id := uuid.NewString()
	if err := a.SetClientID(ctx, tx, id); err != nil {
		return "", err
	}
	return id, nil
}

// RequireClientID returns the stored client_id or syncerr.ErrMissingClientID
// (powersync_client_id(), spec.md §6).
func RequireClientID(ctx context.Context, a Adapter, tx *sql.Tx) (string, error) {
	id, ok, err := a.ClientID(ctx, tx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", syncerr.ErrMissingClientID
	}
	return id, nil
}
