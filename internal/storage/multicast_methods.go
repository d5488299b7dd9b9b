package storage

import (
	"context"
	"database/sql"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// ========== Multicast Group Methods ==========

func (s *PostgresStore) GetMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) (*models.MulticastGroup, error) {
	query := `
        SELECT dev_addr, nwk_s_key, app_s_key, f_cnt_down, rx2_dr, rx2_freq, application_id
        FROM multicast_groups
        WHERE dev_addr = $1`

	g := &models.MulticastGroup{}
	var devAddrBytes, nwkSKeyBytes, appSKeyBytes []byte

	err := s.getDB().QueryRowContext(ctx, query, devAddr[:]).Scan(
		&devAddrBytes, &nwkSKeyBytes, &appSKeyBytes, &g.FCntDown,
		&g.RX2DR, &g.RX2Freq, &g.ApplicationID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copy(g.DevAddr[:], devAddrBytes)
	copy(g.NwkSKey[:], nwkSKeyBytes)
	copy(g.AppSKey[:], appSKeyBytes)

	return g, nil
}

func (s *PostgresStore) PutMulticastGroup(ctx context.Context, g *models.MulticastGroup) error {
	query := `
        INSERT INTO multicast_groups (dev_addr, nwk_s_key, app_s_key, f_cnt_down, rx2_dr, rx2_freq, application_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (dev_addr) DO UPDATE SET
            nwk_s_key = EXCLUDED.nwk_s_key, app_s_key = EXCLUDED.app_s_key,
            f_cnt_down = EXCLUDED.f_cnt_down, rx2_dr = EXCLUDED.rx2_dr,
            rx2_freq = EXCLUDED.rx2_freq, application_id = EXCLUDED.application_id`

	_, err := s.getDB().ExecContext(ctx, query,
		g.DevAddr[:], g.NwkSKey[:], g.AppSKey[:], g.FCntDown,
		g.RX2DR, g.RX2Freq, g.ApplicationID,
	)
	return err
}

func (s *PostgresStore) DeleteMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) error {
	_, err := s.getDB().ExecContext(ctx, "DELETE FROM multicast_groups WHERE dev_addr = $1", devAddr[:])
	return err
}
