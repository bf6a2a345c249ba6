package main

import (
	"context"
	"database/sql"
	"time"

	contractstore "signlink/internal/contracts/store"
	linkstore "signlink/internal/links/store"
	signingservice "signlink/internal/signing/service"
	dErrors "signlink/pkg/domain-errors"
	txcontext "signlink/pkg/platform/tx"
)

const defaultSigningTxTimeout = 5 * time.Second

// signingPostgresTx runs a completion inside one database transaction. The
// stores pick the transaction up from ctx.
type signingPostgresTx struct {
	db        *sql.DB
	links     *linkstore.PostgresStore
	contracts *contractstore.PostgresStore
	timeout   time.Duration
}

func newSigningPostgresTx(db *sql.DB, links *linkstore.PostgresStore, contracts *contractstore.PostgresStore) *signingPostgresTx {
	return &signingPostgresTx{db: db, links: links, contracts: contracts}
}

func (t *signingPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context, stores signingservice.TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSigningTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin signing transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), signingservice.TxStores{Links: t.links, Contracts: t.contracts}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit signing transaction")
	}
	return nil
}
