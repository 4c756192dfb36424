package credits

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the credit accounting logic over a Store. It owns the
// only write path to account balances and the transaction ledger.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Apply credits one completed checkout inside a single transaction: the
// balance update and the audit record commit together or not at all. The
// session id deduplicates at-least-once webhook deliveries; reapplying an
// already-recorded session is a no-op and returns applied=false.
func (service *Service) Apply(ctx context.Context, grant Grant) (bool, error) {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		applied, err := transactionStore.SessionApplied(ctx, grant.SessionID())
		if err != nil {
			return err
		}
		if applied {
			return ErrDuplicateSession
		}
		account, err := transactionStore.GetAccountForUpdate(ctx, grant.UserID())
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		newBalance := account.Credits + grant.Credits().Int64()
		if err := transactionStore.UpdateAccountCredits(ctx, grant.UserID(), newBalance, nowUnixUTC); err != nil {
			return err
		}
		record := TransactionRecord{
			UserID:         grant.UserID().String(),
			SessionID:      grant.SessionID().String(),
			BundleName:     grant.BundleName(),
			CreditsAdded:   grant.Credits().Int64(),
			AmountCents:    grant.AmountCents(),
			Currency:       grant.Currency(),
			Status:         TransactionStatusCompleted,
			MetadataJSON:   grant.MetadataJSON(),
			CreatedUnixUTC: nowUnixUTC,
		}
		return transactionStore.InsertTransaction(ctx, record)
	})
	status := ""
	if errors.Is(operationError, ErrDuplicateSession) {
		status = operationStatusDuplicate
		operationError = nil
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationApply,
		UserID:    grant.UserID(),
		SessionID: grant.SessionID(),
		Credits:   grant.Credits(),
		Status:    status,
		Error:     operationError,
	})
	if status == operationStatusDuplicate {
		return false, nil
	}
	return operationError == nil, operationError
}

// Provision creates the account on first contact with a zero balance. An
// account that already exists (for example one created by the mobile
// client) is preserved untouched; the call reports created=false.
func (service *Service) Provision(ctx context.Context, account Account) (bool, error) {
	userID, err := NewUserID(account.UserID)
	if err != nil {
		return false, err
	}
	nowUnixUTC := service.nowFn()
	account.Credits = 0
	account.CreatedUnixUTC = nowUnixUTC
	account.UpdatedUnixUTC = nowUnixUTC
	created, operationError := service.store.CreateAccountIfAbsent(ctx, account)
	service.logOperation(ctx, OperationLog{
		Operation: operationProvision,
		UserID:    userID,
		Error:     operationError,
	})
	return created, operationError
}

// Balance returns the current account, including the credit balance.
func (service *Service) Balance(ctx context.Context, userID UserID) (Account, error) {
	account, operationError := service.store.GetAccount(ctx, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationBalance,
		UserID:    userID,
		Error:     operationError,
	})
	return account, operationError
}

// History lists the newest transaction records for an account.
func (service *Service) History(ctx context.Context, userID UserID, limit int) ([]TransactionRecord, error) {
	records, operationError := service.store.ListTransactions(ctx, userID, limit)
	service.logOperation(ctx, OperationLog{
		Operation: operationHistory,
		UserID:    userID,
		Error:     operationError,
	})
	return records, operationError
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
