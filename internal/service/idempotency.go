package service

import (
	"context"
	"fmt"

	"payledger/internal/model"
	"payledger/internal/repository"

	"gorm.io/gorm"
)

// Replay is what an already-applied idempotency key resolves to.
// Counterpart is only set for transfer legs.
type Replay struct {
	Primary     *model.AccountTransaction
	Counterpart *model.AccountTransaction
}

// IsTransfer reports whether the key belonged to a transfer.
func (r *Replay) IsTransfer() bool {
	return r.Primary.IsTransferLeg()
}

// DebitAndCredit orders a transfer replay into its two legs.
func (r *Replay) DebitAndCredit() (debit, credit *model.AccountTransaction) {
	if r.Primary.Type == model.TransactionTypeDebit {
		return r.Primary, r.Counterpart
	}
	return r.Counterpart, r.Primary
}

// IdempotencyResolver looks keys up in the transaction log. It never writes.
type IdempotencyResolver struct {
	transactions *repository.TransactionRepository
}

func NewIdempotencyResolver(transactions *repository.TransactionRepository) *IdempotencyResolver {
	return &IdempotencyResolver{transactions: transactions}
}

// Resolve returns nil, nil when key was never applied.
//
// Both legs of a transfer commit in one unit of work, so a transfer row
// without its counterpart is corruption and surfaces as ErrIncompleteTransfer.
func (r *IdempotencyResolver) Resolve(ctx context.Context, tx *gorm.DB, key string) (*Replay, error) {
	primary, err := r.transactions.GetByIdempotencyKey(ctx, tx, key)
	if err != nil {
		return nil, fmt.Errorf("resolve idempotency key: %w", err)
	}
	if primary == nil {
		return nil, nil
	}
	if !primary.IsTransferLeg() {
		return &Replay{Primary: primary}, nil
	}

	legs, err := r.transactions.ListByCorrelationID(ctx, tx, *primary.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("load transfer legs: %w", err)
	}
	for _, leg := range legs {
		if leg.ID != primary.ID {
			return &Replay{Primary: primary, Counterpart: leg}, nil
		}
	}
	return nil, fmt.Errorf("%w: correlation %s", ErrIncompleteTransfer, *primary.CorrelationID)
}
