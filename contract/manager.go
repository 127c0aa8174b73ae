package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/renewalhq/crt/spec"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the dependencies for the contract Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to Contracts
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for contracts
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Contract{}, &Clause{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize contract.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// Create will persist a new contract owned by the given user
func (m *Manager) Create(ctx context.Context, c *Contract) error {
	if len(c.UserID) == 0 {
		return fmt.Errorf("Contract.UserID is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	result := m.DB.WithContext(ctx).Create(c)
	if result.Error != nil {
		m.Logger.Error("Unable to create contract in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot create contract")
	}
	return nil
}

// GetOption selects a single contract scoped to its owner
type GetOption struct {
	UserID     string
	ContractID string
}

// Get will try to return the contract by id, scoped to the owning user
func (m *Manager) Get(ctx context.Context, opt GetOption) (*Contract, error) {
	if len(opt.UserID) == 0 {
		return nil, fmt.Errorf("GetOption.UserID is required")
	}
	if len(opt.ContractID) == 0 {
		return nil, fmt.Errorf("GetOption.ContractID is required")
	}

	var c Contract
	result := m.DB.WithContext(ctx).
		Preload("Clauses").
		Where("user_id = ?", opt.UserID).
		Where("id = ?", opt.ContractID).
		First(&c)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get contract")
	}

	return &c, nil
}

// ListOption filters the contract listing
type ListOption struct {
	UserID string
	Before time.Time
	Limit  int
}

// List returns the user's contracts, most recently created first
func (m *Manager) List(ctx context.Context, opt ListOption) ([]Contract, error) {
	if len(opt.UserID) == 0 {
		return nil, fmt.Errorf("ListOption.UserID is required")
	}

	baseQuery := m.DB.WithContext(ctx).
		Order("created_at desc").
		Where("user_id = ?", opt.UserID)
	if opt.Limit > 0 {
		baseQuery = baseQuery.Limit(opt.Limit)
	}
	if !opt.Before.IsZero() {
		baseQuery = baseQuery.Where("created_at < ?", opt.Before)
	}

	results := make([]Contract, 0, 1)
	result := baseQuery.Preload("Clauses").Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// Update persists the full state of an existing contract. A full-field write
// so clearing a flag (AutoRenews false) sticks; clauses are managed through
// ReplaceClauses, never here.
func (m *Manager) Update(ctx context.Context, c *Contract) error {
	if len(c.ID) == 0 || len(c.UserID) == 0 {
		return fmt.Errorf("Contract.ID and Contract.UserID are required")
	}
	result := m.DB.WithContext(ctx).
		Omit(clause.Associations).
		Save(c)
	if result.Error != nil {
		m.Logger.Error("Unable to update contract in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update contract")
	}
	return nil
}

// ReplaceClauses swaps the extracted clauses of a contract in one transaction
func (m *Manager) ReplaceClauses(ctx context.Context, contractID string, clauses []Clause) error {
	if len(contractID) == 0 {
		return fmt.Errorf("contractID is required")
	}
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contract_id = ?", contractID).Delete(&Clause{}).Error; err != nil {
			return err
		}
		for k := range clauses {
			clauses[k].ID = uuid.New().String()
			clauses[k].ContractID = contractID
		}
		if len(clauses) == 0 {
			return nil
		}
		return tx.Create(&clauses).Error
	})
}

// SetStatus mutates only the lifecycle status of a contract
func (m *Manager) SetStatus(ctx context.Context, opt GetOption, status Status) error {
	result := m.DB.WithContext(ctx).
		Model(&Contract{}).
		Where("id = ?", opt.ContractID).
		Where("user_id = ?", opt.UserID).
		Update("status", status)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot update contract status")
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no contract with id %s", opt.ContractID)
	}
	return nil
}

// ExpiringOption selects contracts whose renewal deadline falls within a window
type ExpiringOption struct {
	Window    spec.ReminderWindow
	Reference time.Time
}

// ListExpiring returns active contracts whose renewal deadline is within
// Window days of the reference time. Used by the reminder scanner.
func (m *Manager) ListExpiring(ctx context.Context, opt ExpiringOption) ([]Contract, error) {
	if opt.Reference.IsZero() {
		return nil, fmt.Errorf("ExpiringOption.Reference is required")
	}
	horizon := opt.Reference.AddDate(0, 0, int(opt.Window))

	results := make([]Contract, 0, 1)
	// renewal deadline = end_date - notice_period_days
	result := m.DB.WithContext(ctx).
		Where("status = ?", StatusActive).
		Where("end_date - make_interval(days => notice_period_days) > ?", opt.Reference).
		Where("end_date - make_interval(days => notice_period_days) <= ?", horizon).
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list expiring contracts")
	}
	return results, nil
}
