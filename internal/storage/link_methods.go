package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// ========== Link Methods ==========

// PutLink upserts the Link keyed by DevAddr. A re-join replaces the row
// wholesale rather than patching fields.
func (s *PostgresStore) PutLink(ctx context.Context, link *models.Link) error {
	now := time.Now()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	query := `
		INSERT INTO links (
			dev_addr, dev_eui, nwk_s_key, app_s_key, f_cnt_up, f_cnt_down,
			f_cnt_check, adr_flag_use, adr_flag_set, adr_use, adr_set,
			rx_win_use, rx_win_set, last_gateway_mac, last_rxq,
			dev_stat, dev_stat_fcnt, last_qs, last_rx, last_reset,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (dev_addr) DO UPDATE SET
			dev_eui = EXCLUDED.dev_eui, nwk_s_key = EXCLUDED.nwk_s_key,
			app_s_key = EXCLUDED.app_s_key, f_cnt_up = EXCLUDED.f_cnt_up,
			f_cnt_down = EXCLUDED.f_cnt_down, f_cnt_check = EXCLUDED.f_cnt_check,
			adr_flag_use = EXCLUDED.adr_flag_use, adr_flag_set = EXCLUDED.adr_flag_set,
			adr_use = EXCLUDED.adr_use, adr_set = EXCLUDED.adr_set,
			rx_win_use = EXCLUDED.rx_win_use, rx_win_set = EXCLUDED.rx_win_set,
			last_gateway_mac = EXCLUDED.last_gateway_mac, last_rxq = EXCLUDED.last_rxq,
			dev_stat = EXCLUDED.dev_stat, dev_stat_fcnt = EXCLUDED.dev_stat_fcnt,
			last_qs = EXCLUDED.last_qs, last_rx = EXCLUDED.last_rx,
			last_reset = EXCLUDED.last_reset, updated_at = EXCLUDED.updated_at`

	_, err := s.getDB().ExecContext(ctx, query,
		link.DevAddr[:], link.DevEUI[:], link.NwkSKey[:], link.AppSKey[:],
		link.FCntUp, link.FCntDown, link.FCntCheck, link.ADRFlagUse,
		link.ADRFlagSet, link.ADRUse, link.ADRSet, link.RXWinUse, link.RXWinSet,
		link.LastGatewayMAC[:], link.LastRxQ, link.DevStat, link.DevStatFCnt,
		link.LastQs, link.LastRX, link.LastReset, link.CreatedAt, link.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetLink(ctx context.Context, devAddr lorawan.DevAddr) (*models.Link, error) {
	query := `
		SELECT dev_addr, dev_eui, nwk_s_key, app_s_key, f_cnt_up, f_cnt_down,
			f_cnt_check, adr_flag_use, adr_flag_set, adr_use, adr_set,
			rx_win_use, rx_win_set, last_gateway_mac, last_rxq,
			dev_stat, dev_stat_fcnt, last_qs, last_rx, last_reset,
			created_at, updated_at
		FROM links
		WHERE dev_addr = $1`

	link := &models.Link{}
	var devAddrBytes, devEUIBytes, nwkSKeyBytes, appSKeyBytes, lastGWBytes []byte

	err := s.getDB().QueryRowContext(ctx, query, devAddr[:]).Scan(
		&devAddrBytes, &devEUIBytes, &nwkSKeyBytes, &appSKeyBytes,
		&link.FCntUp, &link.FCntDown, &link.FCntCheck, &link.ADRFlagUse,
		&link.ADRFlagSet, &link.ADRUse, &link.ADRSet, &link.RXWinUse,
		&link.RXWinSet, &lastGWBytes, &link.LastRxQ, &link.DevStat,
		&link.DevStatFCnt, &link.LastQs, &link.LastRX, &link.LastReset,
		&link.CreatedAt, &link.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copy(link.DevAddr[:], devAddrBytes)
	copy(link.DevEUI[:], devEUIBytes)
	copy(link.NwkSKey[:], nwkSKeyBytes)
	copy(link.AppSKey[:], appSKeyBytes)
	copy(link.LastGatewayMAC[:], lastGWBytes)

	return link, nil
}

func (s *PostgresStore) DeleteLink(ctx context.Context, devAddr lorawan.DevAddr) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM links WHERE dev_addr = $1", devAddr[:])
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
