package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// ========== Device Methods ==========

const deviceColumns = `
            dev_eui, join_eui, protocol_version, name, app_key, nwk_key,
            dev_addr, dev_nonce, rj_count0, rj_count1, join_nonce,
            nwk_s_key, f_nwk_s_int_key, s_nwk_s_int_key, nwk_s_enc_key,
            js_enc_key, js_int_key, app_s_key,
            joined_at, created_at, updated_at`

// CreateDevice creates a new device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
        INSERT INTO devices (
            dev_eui, join_eui, protocol_version, name, app_key, nwk_key,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		device.DevEUI, device.JoinEUI, device.ProtocolVersion, device.Name,
		device.AppKey, device.NwkKey, device.CreatedAt, device.UpdatedAt,
	)
	if err != nil {
		return handlePSQLError(err, "insert device")
	}

	return nil
}

// GetDevice gets a device by DevEUI
func (s *PostgresStore) GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error) {
	query := `SELECT` + deviceColumns + `
        FROM devices
        WHERE dev_eui = $1`

	device, err := scanDevice(s.getDB().QueryRowContext(ctx, query, devEUI))
	if err != nil {
		return nil, handlePSQLError(err, "select device")
	}

	return device, nil
}

// UpdateDeviceJoin writes the outcome of a join
func (s *PostgresStore) UpdateDeviceJoin(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	var devNonce sql.NullInt32
	if device.DevNonce != nil {
		devNonce = sql.NullInt32{Int32: int32(*device.DevNonce), Valid: true}
	}

	keys := device.SessionKeys
	query := `
        UPDATE devices SET
            updated_at = $2, dev_addr = $3, dev_nonce = $4,
            rj_count0 = $5, rj_count1 = $6, join_nonce = $7,
            nwk_s_key = $8, f_nwk_s_int_key = $9, s_nwk_s_int_key = $10,
            nwk_s_enc_key = $11, js_enc_key = $12, js_int_key = $13,
            app_s_key = $14, joined_at = $15
        WHERE dev_eui = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		device.DevEUI, device.UpdatedAt, device.DevAddr, devNonce,
		int32(device.RJCount0), int32(device.RJCount1), int64(device.JoinNonce),
		nullableKey(keys.NwkSKey), nullableKey(keys.FNwkSIntKey), nullableKey(keys.SNwkSIntKey),
		nullableKey(keys.NwkSEncKey), nullableKey(keys.JSEncKey), nullableKey(keys.JSIntKey),
		nullableKey(keys.AppSKey), device.JoinedAt,
	)
	if err != nil {
		return handlePSQLError(err, "update device join")
	}

	return expectOneRow(result)
}

// SetDeviceKeys sets device root keys
func (s *PostgresStore) SetDeviceKeys(ctx context.Context, devEUI lorawan.EUI64, keys *models.DeviceKeys) error {
	query := `
        UPDATE devices SET app_key = $2, nwk_key = $3, updated_at = $4
        WHERE dev_eui = $1`

	result, err := s.getDB().ExecContext(ctx, query, devEUI, keys.AppKey, keys.NwkKey, time.Now())
	if err != nil {
		return handlePSQLError(err, "update device keys")
	}

	return expectOneRow(result)
}

// DeleteDevice deletes a device
func (s *PostgresStore) DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM devices WHERE dev_eui = $1", devEUI)
	if err != nil {
		return handlePSQLError(err, "delete device")
	}

	return expectOneRow(result)
}

// ListDevices lists devices
func (s *PostgresStore) ListDevices(ctx context.Context, limit, offset int) ([]*models.Device, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM devices").Scan(&count)
	if err != nil {
		return nil, 0, handlePSQLError(err, "count devices")
	}

	query := `SELECT` + deviceColumns + `
        FROM devices
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, handlePSQLError(err, "select devices")
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, 0, handlePSQLError(err, "scan device")
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, handlePSQLError(err, "select devices")
	}

	return devices, count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	device := &models.Device{}
	keys := &device.SessionKeys

	var devNonce sql.NullInt32
	var rjCount0, rjCount1 int32
	var joinNonce int64

	err := row.Scan(
		&device.DevEUI, &device.JoinEUI, &device.ProtocolVersion, &device.Name,
		&device.AppKey, &device.NwkKey,
		&device.DevAddr, &devNonce, &rjCount0, &rjCount1, &joinNonce,
		keyScanner{&keys.NwkSKey}, keyScanner{&keys.FNwkSIntKey}, keyScanner{&keys.SNwkSIntKey},
		keyScanner{&keys.NwkSEncKey}, keyScanner{&keys.JSEncKey}, keyScanner{&keys.JSIntKey},
		keyScanner{&keys.AppSKey},
		&device.JoinedAt, &device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if devNonce.Valid {
		n := lorawan.DevNonce(devNonce.Int32)
		device.DevNonce = &n
	}
	device.RJCount0 = uint16(rjCount0)
	device.RJCount1 = uint16(rjCount1)
	device.JoinNonce = uint32(joinNonce)

	return device, nil
}

// keyScanner scans a nullable key column, NULL gives the zero key.
type keyScanner struct {
	key *lorawan.AES128Key
}

func (s keyScanner) Scan(src interface{}) error {
	if src == nil {
		*s.key = lorawan.AES128Key{}
		return nil
	}
	return s.key.Scan(src)
}

func nullableKey(k lorawan.AES128Key) interface{} {
	if k == (lorawan.AES128Key{}) {
		return nil
	}
	return k[:]
}
