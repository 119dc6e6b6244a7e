package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrOrderNotFound  = fault.New(fault.Validation, "order not found")
	ErrDuplicateOrder = fault.New(fault.Conflict, "order already submitted")
	ErrOrderClosed    = fault.New(fault.Conflict, "order already executed or cancelled")
	ErrNotPicked      = fault.New(fault.Conflict, "order is not picked")
)

type Status string

const (
	Pending   Status = "pending"
	Picked    Status = "picked"
	Executed  Status = "executed"
	Cancelled Status = "cancelled"
)

// Order is the coordinator's record of a submitted order. Its status is
// advisory, the order execution contract holds the authoritative state.
type Order struct {
	gorm.Model

	OrderID          string `gorm:"uniqueIndex"`
	OrderHash        string `gorm:"uniqueIndex"`
	Maker            string `gorm:"index"`
	SourceChain      uint64
	DestinationChain uint64
	SecretHash       string
	Payload          string
	Signature        string
	Status           Status `gorm:"index"`

	Resolver        string
	EstimatedProfit string
	EstimatedGas    uint64
	TxHash          string
	EscrowAddress   string
	GasUsed         uint64
	Error           string
	Secret          string
}

// Nonce is a sign-in nonce handed out to a resolver.
type Nonce struct {
	gorm.Model

	Value     string `gorm:"uniqueIndex"`
	ExpiresAt time.Time
}

// Filter narrows Orders. Zero fields match everything.
type Filter struct {
	Maker  common.Address
	Status Status
}

// Execution is what a resolver or the chain reports about a filled order.
// Empty fields leave the stored values untouched.
type Execution struct {
	Resolver      string
	TxHash        string
	EscrowAddress string
	GasUsed       uint64
}

type Store interface {
	// CreateOrder inserts a pending order.
	CreateOrder(order *Order) error

	Order(orderID string) (Order, error)

	OrderByHash(orderHash common.Hash) (Order, error)

	Orders(filter Filter) ([]Order, error)

	// Pick moves a pending or picked order to picked, the last picker wins.
	Pick(orderID, resolver, profit string, gas uint64) error

	// ReleasePick puts a picked order back to pending after a failed execution.
	ReleasePick(orderID, reason string) error

	// MarkExecuted records an execution. It is idempotent.
	MarkExecuted(orderID string, execution Execution) error

	// RecordFill records a fill observed on chain. The contract is the
	// authority, so it also reopens an order cancelled off-chain.
	RecordFill(orderID string, execution Execution) error

	// Cancel stops an order that has not been executed.
	Cancel(orderID string) error

	PutSecret(orderID string, secret string) error

	// Counts returns the number of orders per status.
	Counts() (map[Status]int64, error)

	PutNonce(nonce string, expiry time.Duration) error

	// ConsumeNonce reports whether the nonce was issued and not expired, and
	// deletes it.
	ConsumeNonce(nonce string) (bool, error)
}

type store struct {
	mu *sync.RWMutex
	db *gorm.DB
}

// Open connects to postgres for postgres:// DSNs and to sqlite otherwise.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func NewStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&Order{}, &Nonce{}); err != nil {
		return nil, err
	}

	// Set max connections
	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDb.SetMaxIdleConns(5)
	sqlDb.SetMaxOpenConns(5)
	sqlDb.SetConnMaxIdleTime(10 * time.Minute)
	return &store{mu: new(sync.RWMutex), db: db}, nil
}

func (s *store) CreateOrder(order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	if err := s.db.Model(&Order{}).Where("order_hash = ?", order.OrderHash).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %v", ErrDuplicateOrder, order.OrderHash)
	}
	if order.Status == "" {
		order.Status = Pending
	}
	return s.db.Create(order).Error
}

func (s *store) Order(orderID string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var order Order
	err := s.db.Where("order_id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order, ErrOrderNotFound
	}
	return order, err
}

func (s *store) OrderByHash(orderHash common.Hash) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var order Order
	err := s.db.Where("order_hash = ?", orderHash.Hex()).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order, ErrOrderNotFound
	}
	return order, err
}

func (s *store) Orders(filter Filter) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := s.db.Model(&Order{})
	if filter.Maker != (common.Address{}) {
		tx = tx.Where("maker = ?", filter.Maker.Hex())
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	var orders []Order
	err := tx.Order("id asc").Find(&orders).Error
	return orders, err
}

func (s *store) Pick(orderID, resolver, profit string, gas uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transition(orderID, []Status{Pending, Picked}, ErrOrderClosed, map[string]interface{}{
		"status":           Picked,
		"resolver":         resolver,
		"estimated_profit": profit,
		"estimated_gas":    gas,
	})
}

func (s *store) ReleasePick(orderID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transition(orderID, []Status{Picked}, ErrNotPicked, map[string]interface{}{
		"status":   Pending,
		"resolver": "",
		"error":    reason,
	})
}

func (s *store) MarkExecuted(orderID string, execution Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transition(orderID, []Status{Pending, Picked, Executed}, ErrOrderClosed, executionUpdates(execution))
}

func (s *store) RecordFill(orderID string, execution Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transition(orderID, []Status{Pending, Picked, Executed, Cancelled}, ErrOrderClosed, executionUpdates(execution))
}

func executionUpdates(execution Execution) map[string]interface{} {
	updates := map[string]interface{}{"status": Executed}
	if execution.Resolver != "" {
		updates["resolver"] = execution.Resolver
	}
	if execution.TxHash != "" {
		updates["tx_hash"] = execution.TxHash
	}
	if execution.EscrowAddress != "" {
		updates["escrow_address"] = execution.EscrowAddress
	}
	if execution.GasUsed != 0 {
		updates["gas_used"] = execution.GasUsed
	}
	return updates
}

func (s *store) Cancel(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transition(orderID, []Status{Pending, Picked, Cancelled}, ErrOrderClosed, map[string]interface{}{
		"status": Cancelled,
	})
}

func (s *store) PutSecret(orderID string, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.db.Model(&Order{}).Where("order_id = ?", orderID).Update("secret", secret)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *store) Counts() (map[Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []struct {
		Status Status
		Count  int64
	}
	if err := s.db.Model(&Order{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := map[Status]int64{Pending: 0, Picked: 0, Executed: 0, Cancelled: 0}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *store) PutNonce(nonce string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Create(&Nonce{Value: nonce, ExpiresAt: time.Now().Add(expiry)}).Error
}

func (s *store) ConsumeNonce(nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record Nonce
	err := s.db.Where("value = ?", nonce).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.db.Unscoped().Delete(&record).Error; err != nil {
		return false, err
	}
	return time.Now().Before(record.ExpiresAt), nil
}

// transition applies updates when the order is in one of the from states.
// When nothing matched it tells a missing order apart from a closed one.
func (s *store) transition(orderID string, from []Status, closed error, updates map[string]interface{}) error {
	tx := s.db.Model(&Order{}).Where("order_id = ? AND status IN ?", orderID, from).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	var order Order
	if err := s.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	return fmt.Errorf("%w: status %v", closed, order.Status)
}
