package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mcclellann/loanledger/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// MySQLConfig carries the connection settings for the MySQL backend.
type MySQLConfig struct {
	User         string
	Password     string
	Host         string
	Port         string
	Name         string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN builds the go-sql-driver DSN with parseTime enabled.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// GormStore persists the ledger in a relational database through GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenMySQL connects to MySQL, tunes the pool and migrates the schema.
func OpenMySQL(cfg MySQLConfig) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				Colorful:      false,
				LogLevel:      logger.Error,
				SlowThreshold: time.Second,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open mysql database: %w", err)
	}
	if sqlDB, derr := db.DB(); derr == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns >= 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open GORM handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&models.Loan{},
		&models.Payment{},
		&models.InterestEvent{},
		&models.AccountTransaction{},
		&models.MonthlyInvoice{},
	)
	if err != nil {
		return nil, fmt.Errorf("could not migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) GetLoans(ctx context.Context) ([]*models.Loan, error) {
	var loans []*models.Loan
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&loans).Error; err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	return loans, nil
}

func (s *GormStore) GetLoan(ctx context.Context, id int) (*models.Loan, error) {
	var loan models.Loan
	if err := s.db.WithContext(ctx).First(&loan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, loanNotFound(id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return &loan, nil
}

func (s *GormStore) SaveLoan(ctx context.Context, loan *models.Loan) (int, error) {
	if err := s.db.WithContext(ctx).Create(loan).Error; err != nil {
		return 0, fmt.Errorf("failed to create loan: %w", err)
	}
	return loan.ID, nil
}

func (s *GormStore) UpdateLoan(ctx context.Context, id int, update models.LoanUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	cols := update.Columns()
	result := s.db.WithContext(ctx).Model(&models.Loan{}).Where("id = ?", id).Updates(cols)
	if result.Error != nil {
		return fmt.Errorf("failed to update loan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows when the values did not change.
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.Loan{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check loan existence: %w", err)
		}
		if n == 0 {
			return loanNotFound(id)
		}
	}
	return nil
}

func (s *GormStore) DeleteLoan(ctx context.Context, id int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("loan_id = ?", id).Delete(&models.InterestEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete associated interest events: %w", err)
		}
		if err := tx.Where("loan_id = ?", id).Delete(&models.Payment{}).Error; err != nil {
			return fmt.Errorf("failed to delete associated payments: %w", err)
		}
		result := tx.Delete(&models.Loan{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete loan: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return loanNotFound(id)
		}
		return nil
	})
}

func (s *GormStore) GetPayments(ctx context.Context) ([]*models.Payment, error) {
	var payments []*models.Payment
	if err := s.db.WithContext(ctx).Order("date ASC, id ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	return payments, nil
}

func (s *GormStore) GetPayment(ctx context.Context, id int) (*models.Payment, error) {
	var p models.Payment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, paymentNotFound(id)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

func (s *GormStore) SavePayment(ctx context.Context, payment *models.Payment) (int, error) {
	if err := s.db.WithContext(ctx).Create(payment).Error; err != nil {
		return 0, fmt.Errorf("failed to create payment: %w", err)
	}
	return payment.ID, nil
}

func (s *GormStore) DeletePayment(ctx context.Context, id int) error {
	result := s.db.WithContext(ctx).Delete(&models.Payment{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete payment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return paymentNotFound(id)
	}
	return nil
}

func (s *GormStore) GetInterestEvents(ctx context.Context) ([]*models.InterestEvent, error) {
	var events []*models.InterestEvent
	if err := s.db.WithContext(ctx).Order("date DESC, id DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get interest events: %w", err)
	}
	return events, nil
}

func (s *GormStore) SaveInterestEvent(ctx context.Context, event *models.InterestEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to create interest event: %w", err)
	}
	return nil
}

func (s *GormStore) GetAccountTransactions(ctx context.Context) ([]*models.AccountTransaction, error) {
	var txs []*models.AccountTransaction
	if err := s.db.WithContext(ctx).Order("date ASC, id ASC").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to get account transactions: %w", err)
	}
	return txs, nil
}

func (s *GormStore) SaveAccountTransaction(ctx context.Context, tx *models.AccountTransaction) (int, error) {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return 0, fmt.Errorf("failed to create account transaction: %w", err)
	}
	return tx.ID, nil
}

func (s *GormStore) GetMonthlyInvoices(ctx context.Context) ([]*models.MonthlyInvoice, error) {
	var invoices []*models.MonthlyInvoice
	if err := s.db.WithContext(ctx).Order("year ASC, month ASC").Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("failed to get monthly invoices: %w", err)
	}
	return invoices, nil
}

func (s *GormStore) GetMonthlyInvoice(ctx context.Context, month, year int) (*models.MonthlyInvoice, error) {
	var inv models.MonthlyInvoice
	err := s.db.WithContext(ctx).Where("month = ? AND year = ?", month, year).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoiceNotFound(models.InvoiceID(month, year))
		}
		return nil, fmt.Errorf("failed to get monthly invoice: %w", err)
	}
	return &inv, nil
}

func (s *GormStore) SaveMonthlyInvoice(ctx context.Context, invoice *models.MonthlyInvoice) (string, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"generated_date", "last_updated", "total_accrued", "total_paid", "remaining",
			"status", "loan_details", "payments_in_month", "daily_breakdown", "updated_at",
		}),
	}).Create(invoice).Error
	if err != nil {
		return "", fmt.Errorf("failed to save monthly invoice %s: %w", invoice.ID, err)
	}
	return invoice.ID, nil
}

func (s *GormStore) DeleteMonthlyInvoice(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.MonthlyInvoice{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete monthly invoice: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return invoiceNotFound(id)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
