package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// ========== Device Methods ==========

func (s *PostgresStore) PutDevice(ctx context.Context, device *models.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	var devAddr []byte
	if device.DevAddr != nil {
		devAddr = device.DevAddr[:]
	}

	query := `
        INSERT INTO devices (
            dev_eui, created_at, updated_at, tenant_id, app_key, can_join,
            name, description, region, application_id, device_profile_id,
            app_args, initial_adr, f_cnt_check, dev_addr, last_join,
            is_disabled, last_seen_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
        )
        ON CONFLICT (dev_eui) DO UPDATE SET
            updated_at = EXCLUDED.updated_at, app_key = EXCLUDED.app_key,
            can_join = EXCLUDED.can_join, name = EXCLUDED.name,
            description = EXCLUDED.description, region = EXCLUDED.region,
            application_id = EXCLUDED.application_id,
            device_profile_id = EXCLUDED.device_profile_id,
            app_args = EXCLUDED.app_args, initial_adr = EXCLUDED.initial_adr,
            f_cnt_check = EXCLUDED.f_cnt_check, dev_addr = EXCLUDED.dev_addr,
            last_join = EXCLUDED.last_join, is_disabled = EXCLUDED.is_disabled,
            last_seen_at = EXCLUDED.last_seen_at`

	_, err := s.getDB().ExecContext(ctx, query,
		device.DevEUI[:], device.CreatedAt, device.UpdatedAt, device.TenantID,
		device.AppKey[:], device.CanJoin, device.Name, device.Description,
		device.Region, device.ApplicationID, device.DeviceProfileID,
		device.AppArgs, device.InitialADR, device.FCntCheck, devAddr,
		device.LastJoin, device.IsDisabled, device.LastSeenAt,
	)

	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error) {
	query := `
        SELECT dev_eui, created_at, updated_at, tenant_id, app_key, can_join,
               name, description, region, application_id, device_profile_id,
               app_args, initial_adr, f_cnt_check, dev_addr, last_join,
               is_disabled, last_seen_at
        FROM devices
        WHERE dev_eui = $1`

	device := &models.Device{}
	var devEUIBytes, appKeyBytes, devAddrBytes []byte

	err := s.getDB().QueryRowContext(ctx, query, devEUI[:]).Scan(
		&devEUIBytes, &device.CreatedAt, &device.UpdatedAt, &device.TenantID,
		&appKeyBytes, &device.CanJoin, &device.Name, &device.Description,
		&device.Region, &device.ApplicationID, &device.DeviceProfileID,
		&device.AppArgs, &device.InitialADR, &device.FCntCheck, &devAddrBytes,
		&device.LastJoin, &device.IsDisabled, &device.LastSeenAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copy(device.DevEUI[:], devEUIBytes)
	copy(device.AppKey[:], appKeyBytes)
	if devAddrBytes != nil {
		device.DevAddr = &lorawan.DevAddr{}
		copy(device.DevAddr[:], devAddrBytes)
	}

	return device, nil
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM devices WHERE dev_eui = $1", devEUI[:])
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDevices(ctx context.Context, applicationID uuid.UUID, limit, offset int) ([]*models.Device, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM devices WHERE application_id = $1", applicationID,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT dev_eui, created_at, updated_at, tenant_id, can_join,
               name, description, region, application_id, device_profile_id,
               dev_addr, last_join, is_disabled, last_seen_at
        FROM devices
        WHERE application_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, applicationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device := &models.Device{}
		var devEUIBytes, devAddrBytes []byte

		err := rows.Scan(
			&devEUIBytes, &device.CreatedAt, &device.UpdatedAt, &device.TenantID,
			&device.CanJoin, &device.Name, &device.Description, &device.Region,
			&device.ApplicationID, &device.DeviceProfileID, &devAddrBytes,
			&device.LastJoin, &device.IsDisabled, &device.LastSeenAt,
		)
		if err != nil {
			return nil, 0, err
		}

		copy(device.DevEUI[:], devEUIBytes)
		if devAddrBytes != nil {
			device.DevAddr = &lorawan.DevAddr{}
			copy(device.DevAddr[:], devAddrBytes)
		}

		devices = append(devices, device)
	}

	return devices, count, nil
}
