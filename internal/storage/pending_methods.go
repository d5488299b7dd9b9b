package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// ========== Pending Downlink Methods ==========

func (s *PostgresStore) PutPendingDownlink(ctx context.Context, p *models.PendingDownlink) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO pending_downlinks (dev_addr, phy_payload, confirmed, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (dev_addr) DO UPDATE SET
            phy_payload = EXCLUDED.phy_payload, confirmed = EXCLUDED.confirmed,
            created_at = EXCLUDED.created_at`

	_, err := s.getDB().ExecContext(ctx, query, p.DevAddr[:], p.PHYPayload, p.Confirmed, p.CreatedAt)
	return err
}

func (s *PostgresStore) GetPendingDownlink(ctx context.Context, devAddr lorawan.DevAddr) (*models.PendingDownlink, error) {
	query := `SELECT dev_addr, phy_payload, confirmed, created_at FROM pending_downlinks WHERE dev_addr = $1`

	p := &models.PendingDownlink{}
	var devAddrBytes []byte
	err := s.getDB().QueryRowContext(ctx, query, devAddr[:]).Scan(&devAddrBytes, &p.PHYPayload, &p.Confirmed, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copy(p.DevAddr[:], devAddrBytes)
	return p, nil
}

func (s *PostgresStore) DeletePendingDownlink(ctx context.Context, devAddr lorawan.DevAddr) error {
	_, err := s.getDB().ExecContext(ctx, "DELETE FROM pending_downlinks WHERE dev_addr = $1", devAddr[:])
	return err
}
