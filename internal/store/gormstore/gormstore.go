package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kitewise/credits/pkg/credits"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionSession = "uniq_credit_tx_session"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectAccount          = "account"
	errorSubjectTransaction      = "transaction"
	errorCodeCreate              = "create"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeList                = "list"
	errorCodeLookup              = "lookup"
	errorCodeUpdateCredits       = "update_credits"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Production deployments run managed
// migrations; this covers sqlite and test databases.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserAccount{}, &CreditTransaction{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetAccount loads an account without locking it.
func (store *Store) GetAccount(ctx context.Context, userID credits.UserID) (credits.Account, error) {
	return store.getAccount(ctx, userID, false)
}

// GetAccountForUpdate loads an account holding a row lock for the duration
// of the surrounding transaction, serializing concurrent reconciliations
// for the same user.
func (store *Store) GetAccountForUpdate(ctx context.Context, userID credits.UserID) (credits.Account, error) {
	return store.getAccount(ctx, userID, true)
}

func (store *Store) getAccount(ctx context.Context, userID credits.UserID, forUpdate bool) (credits.Account, error) {
	query := store.db.WithContext(ctx)
	// sqlite has no FOR UPDATE; its single-writer transactions already
	// serialize the read-modify-write.
	if forUpdate && store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model UserAccount
	err := query.Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, credits.ErrUserNotFound)
		}
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model), nil
}

// CreateAccountIfAbsent inserts the account unless the user id already has
// one; an existing row is left untouched.
func (store *Store) CreateAccountIfAbsent(ctx context.Context, account credits.Account) (bool, error) {
	model := UserAccount{
		UserID:    account.UserID,
		FullName:  account.FullName,
		Email:     account.Email,
		Credits:   account.Credits,
		CreatedAt: time.Unix(account.CreatedUnixUTC, 0).UTC(),
		UpdatedAt: time.Unix(account.UpdatedUnixUTC, 0).UTC(),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&model)
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeCreate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateAccountCredits overwrites the balance and updated timestamp.
func (store *Store) UpdateAccountCredits(ctx context.Context, userID credits.UserID, newBalance int64, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&UserAccount{}).
		Where("user_id = ?", userID.String()).
		Updates(map[string]interface{}{
			"credits":    newBalance,
			"updated_at": time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateCredits, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateCredits, credits.ErrUserNotFound)
	}
	return nil
}

// SessionApplied reports whether a transaction record already exists for
// the session.
func (store *Store) SessionApplied(ctx context.Context, sessionID credits.SessionID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Where("session_id = ?", sessionID.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return count > 0, nil
}

// InsertTransaction appends one audit record. A session id collision maps
// to credits.ErrDuplicateSession.
func (store *Store) InsertTransaction(ctx context.Context, record credits.TransactionRecord) error {
	model := CreditTransaction{
		TransactionID: record.TransactionID,
		UserID:        record.UserID,
		SessionID:     record.SessionID,
		BundleName:    record.BundleName,
		CreditsAdded:  record.CreditsAdded,
		AmountCents:   record.AmountCents,
		Currency:      record.Currency,
		Status:        string(record.Status),
		Metadata:      datatypesJSON(record.MetadataJSON),
		CreatedAt:     time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isSessionConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, credits.ErrDuplicateSession)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

// ListTransactions returns the newest records for a user.
func (store *Store) ListTransactions(ctx context.Context, userID credits.UserID, limit int) ([]credits.TransactionRecord, error) {
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	records := make([]credits.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, mapTransaction(row))
	}
	return records, nil
}

func mapAccount(model UserAccount) credits.Account {
	return credits.Account{
		UserID:         model.UserID,
		FullName:       model.FullName,
		Email:          model.Email,
		Credits:        model.Credits,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}
}

func mapTransaction(model CreditTransaction) credits.TransactionRecord {
	return credits.TransactionRecord{
		TransactionID:  model.TransactionID,
		UserID:         model.UserID,
		SessionID:      model.SessionID,
		BundleName:     model.BundleName,
		CreditsAdded:   model.CreditsAdded,
		AmountCents:    model.AmountCents,
		Currency:       model.Currency,
		Status:         credits.TransactionStatus(model.Status),
		MetadataJSON:   string(model.Metadata),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isSessionConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionSession
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
