package storage

import (
	"context"
	"time"

	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// ========== Device Config Methods ==========

// UpsertDeviceConfig creates or replaces the config stored for a DevAddr
func (s *PostgresStore) UpsertDeviceConfig(ctx context.Context, conf *models.DeviceConfig) error {
	conf.UpdatedAt = time.Now()

	query := `
        INSERT INTO device_configs (
            dev_addr, dev_eui, frequency_plan, rx1_dr_offset, rx2_dr,
            rx2_frequency, rx_delay, channels, extra_channels, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (dev_addr) DO UPDATE SET
            dev_eui = EXCLUDED.dev_eui,
            frequency_plan = EXCLUDED.frequency_plan,
            rx1_dr_offset = EXCLUDED.rx1_dr_offset,
            rx2_dr = EXCLUDED.rx2_dr,
            rx2_frequency = EXCLUDED.rx2_frequency,
            rx_delay = EXCLUDED.rx_delay,
            channels = EXCLUDED.channels,
            extra_channels = EXCLUDED.extra_channels,
            updated_at = EXCLUDED.updated_at`

	_, err := s.getDB().ExecContext(ctx, query,
		conf.DevAddr, conf.DevEUI, conf.FrequencyPlan, int16(conf.RX1DROffset),
		int16(conf.RX2DataRate), int64(conf.RX2Frequency), int16(conf.RxDelay),
		conf.Channels, conf.ExtraChannels, conf.UpdatedAt,
	)
	if err != nil {
		return handlePSQLError(err, "upsert device config")
	}

	return nil
}

// GetDeviceConfig gets the config stored for a DevAddr
func (s *PostgresStore) GetDeviceConfig(ctx context.Context, devAddr lorawan.DevAddr) (*models.DeviceConfig, error) {
	query := `
        SELECT dev_addr, dev_eui, frequency_plan, rx1_dr_offset, rx2_dr,
               rx2_frequency, rx_delay, channels, extra_channels, updated_at
        FROM device_configs
        WHERE dev_addr = $1`

	conf := &models.DeviceConfig{}
	var rx1, rx2dr, rxDelay int16
	var rx2Freq int64

	err := s.getDB().QueryRowContext(ctx, query, devAddr).Scan(
		&conf.DevAddr, &conf.DevEUI, &conf.FrequencyPlan, &rx1, &rx2dr,
		&rx2Freq, &rxDelay, &conf.Channels, &conf.ExtraChannels, &conf.UpdatedAt,
	)
	if err != nil {
		return nil, handlePSQLError(err, "select device config")
	}

	conf.RX1DROffset = uint8(rx1)
	conf.RX2DataRate = uint8(rx2dr)
	conf.RX2Frequency = uint32(rx2Freq)
	conf.RxDelay = uint8(rxDelay)

	return conf, nil
}
