package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// ========== RX / TX Frame Methods ==========

// PutRXFrame appends a frame to the uplink log. FrameID is always
// assigned by the database sequence and written back into f.
func (s *PostgresStore) PutRXFrame(ctx context.Context, f *models.RXFrame) error {
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = time.Now()
	}

	query := `
        INSERT INTO rx_frames (
            dev_addr, dev_eui, application_id, gateway_id, rxq, f_cnt,
            f_port, confirmed, data, dev_stat, received_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING frame_id`

	return s.getDB().QueryRowContext(ctx, query,
		f.DevAddr[:], f.DevEUI[:], f.ApplicationID, f.GatewayID[:], f.RxQ,
		f.FCnt, f.FPort, f.Confirmed, f.Data, f.DevStat, f.ReceivedAt,
	).Scan(&f.FrameID)
}

func (s *PostgresStore) ListRXFrames(ctx context.Context, devEUI lorawan.EUI64, limit, offset int) ([]*models.RXFrame, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rx_frames WHERE dev_eui = $1", devEUI[:],
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT frame_id, dev_addr, dev_eui, application_id, gateway_id, rxq,
               f_cnt, f_port, confirmed, data, dev_stat, received_at
        FROM rx_frames
        WHERE dev_eui = $1
        ORDER BY frame_id DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, devEUI[:], limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var frames []*models.RXFrame
	for rows.Next() {
		f := &models.RXFrame{}
		var devAddrBytes, devEUIBytes, gatewayIDBytes []byte

		err := rows.Scan(
			&f.FrameID, &devAddrBytes, &devEUIBytes, &f.ApplicationID,
			&gatewayIDBytes, &f.RxQ, &f.FCnt, &f.FPort, &f.Confirmed,
			&f.Data, &f.DevStat, &f.ReceivedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		copy(f.DevAddr[:], devAddrBytes)
		copy(f.DevEUI[:], devEUIBytes)
		copy(f.GatewayID[:], gatewayIDBytes)
		frames = append(frames, f)
	}

	return frames, count, nil
}

func (s *PostgresStore) GetLastGatewayForDevice(ctx context.Context, devEUI lorawan.EUI64) (lorawan.EUI64, bool, error) {
	var gatewayIDBytes []byte
	err := s.getDB().QueryRowContext(ctx,
		`SELECT gateway_id FROM rx_frames WHERE dev_eui = $1 ORDER BY frame_id DESC LIMIT 1`,
		devEUI[:],
	).Scan(&gatewayIDBytes)

	if err == sql.ErrNoRows {
		return lorawan.EUI64{}, false, nil
	}
	if err != nil {
		return lorawan.EUI64{}, false, err
	}

	var id lorawan.EUI64
	copy(id[:], gatewayIDBytes)
	return id, true, nil
}

func (s *PostgresStore) PutTXFrame(ctx context.Context, f *models.TXFrame) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO tx_frames (dev_addr, f_port, data, confirmed, gateway_id, created_at, transmitted_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.getDB().ExecContext(ctx, query,
		f.DevAddr[:], f.FPort, f.Data, f.Confirmed, f.GatewayID[:], f.CreatedAt, f.TransmittedAt,
	)
	return err
}

// MarkTXFrameAcked marks the most recent un-acked TX frame for devAddr as
// acknowledged. fCnt is not a match key: a confirmed downlink's ACK
// doesn't echo back the FCntDown it confirms, so the caller has no finer
// key than "the latest pending confirmed frame for this DevAddr".
func (s *PostgresStore) MarkTXFrameAcked(ctx context.Context, devAddr lorawan.DevAddr, fCnt uint32, at time.Time) error {
	_, err := s.getDB().ExecContext(ctx,
		`UPDATE tx_frames SET acked_at = $2
         WHERE ctid = (
             SELECT ctid FROM tx_frames
             WHERE dev_addr = $1 AND acked_at IS NULL
             ORDER BY created_at DESC LIMIT 1
         )`, devAddr[:], at)
	return err
}

// PurgeTXFrames deletes TX log rows older than before, regardless of ack
// state, bounding the table's growth (spec's retention Non-goal leaves
// the policy to the operator; this is the mechanism it would call).
func (s *PostgresStore) PurgeTXFrames(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM tx_frames WHERE created_at < $1", before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PurgeTXFramesForDevAddr deletes every TX log row for devAddr, regardless
// of age, on (re)join.
func (s *PostgresStore) PurgeTXFramesForDevAddr(ctx context.Context, devAddr lorawan.DevAddr) error {
	_, err := s.getDB().ExecContext(ctx, "DELETE FROM tx_frames WHERE dev_addr = $1", devAddr[:])
	return err
}
