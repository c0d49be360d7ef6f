package storage

import (
	"context"
	"errors"

	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error)
	DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error
	ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error)

	// UpdateDeviceJoin stores the outcome of a join: address, counters,
	// issued JoinNonce and session keys.
	UpdateDeviceJoin(ctx context.Context, device *models.Device) error

	// SetDeviceKeys replaces the root keys of a device.
	SetDeviceKeys(ctx context.Context, devEUI lorawan.EUI64, keys *models.DeviceKeys) error

	// Device config methods
	UpsertDeviceConfig(ctx context.Context, conf *models.DeviceConfig) error
	GetDeviceConfig(ctx context.Context, devAddr lorawan.DevAddr) (*models.DeviceConfig, error)

	// Close the store
	Close() error
}
