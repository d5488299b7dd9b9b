package storage

import (
	"context"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// ========== Ignored Link Methods ==========

// ListIgnoredLinks returns every ignore pattern. The uplink engine holds
// this list in memory per request and matches it against the incoming
// DevAddr before attempting MIC verification; the set is expected to be
// small enough to load wholesale.
func (s *PostgresStore) ListIgnoredLinks(ctx context.Context) ([]*models.IgnoredLink, error) {
	rows, err := s.getDB().QueryContext(ctx, "SELECT dev_addr, mask FROM ignored_links")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.IgnoredLink
	for rows.Next() {
		l := &models.IgnoredLink{}
		var addrBytes, maskBytes []byte
		if err := rows.Scan(&addrBytes, &maskBytes); err != nil {
			return nil, err
		}
		copy(l.DevAddr[:], addrBytes)
		copy(l.Mask[:], maskBytes)
		out = append(out, l)
	}
	return out, nil
}

func (s *PostgresStore) PutIgnoredLink(ctx context.Context, l *models.IgnoredLink) error {
	query := `
		INSERT INTO ignored_links (dev_addr, mask) VALUES ($1, $2)
		ON CONFLICT (dev_addr) DO UPDATE SET mask = EXCLUDED.mask`
	_, err := s.getDB().ExecContext(ctx, query, l.DevAddr[:], l.Mask[:])
	return err
}

func (s *PostgresStore) DeleteIgnoredLink(ctx context.Context, devAddr lorawan.DevAddr) error {
	_, err := s.getDB().ExecContext(ctx, "DELETE FROM ignored_links WHERE dev_addr = $1", devAddr[:])
	return err
}
