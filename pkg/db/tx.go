package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

const maxTxAttempts = 3

// Transact runs fn in a transaction and replays it when the database aborts
// it with a lock conflict. Any other error is returned as is.
func Transact(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := conn.WithContext(ctx).Transaction(fn)
		if err != nil && !IsRetryableTxErr(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(maxTxAttempts),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
