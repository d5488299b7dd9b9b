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

// ========== Gateway Methods ==========

func (s *PostgresStore) PutGateway(ctx context.Context, gateway *models.Gateway) error {
	if gateway.ID == uuid.Nil {
		gateway.ID = uuid.New()
	}
	now := time.Now()
	if gateway.CreatedAt.IsZero() {
		gateway.CreatedAt = now
	}
	gateway.UpdatedAt = now

	query := `
        INSERT INTO gateways (
            gateway_id, created_at, updated_at, tenant_id, net_id, name,
            description, position, last_receive_at, network_server_id,
            gateway_profile_id, tags
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
        )
        ON CONFLICT (gateway_id) DO UPDATE SET
            updated_at = EXCLUDED.updated_at, net_id = EXCLUDED.net_id,
            name = EXCLUDED.name, description = EXCLUDED.description,
            position = EXCLUDED.position, last_receive_at = EXCLUDED.last_receive_at,
            tags = EXCLUDED.tags`

	_, err := s.getDB().ExecContext(ctx, query,
		gateway.GatewayID[:], gateway.CreatedAt, gateway.UpdatedAt, gateway.TenantID,
		gateway.NetID[:], gateway.Name, gateway.Description, gateway.Position,
		gateway.LastReceiveAt, gateway.NetworkServerID, gateway.GatewayProfileID,
		gateway.Tags,
	)

	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateKey
	}
	return err
}

func (s *PostgresStore) GetGateway(ctx context.Context, gatewayID lorawan.EUI64) (*models.Gateway, error) {
	query := `
        SELECT gateway_id, created_at, updated_at, tenant_id, net_id, name,
               description, position, last_receive_at, network_server_id,
               gateway_profile_id, tags
        FROM gateways
        WHERE gateway_id = $1`

	gateway := &models.Gateway{}
	var gatewayIDBytes, netIDBytes []byte

	err := s.getDB().QueryRowContext(ctx, query, gatewayID[:]).Scan(
		&gatewayIDBytes, &gateway.CreatedAt, &gateway.UpdatedAt, &gateway.TenantID,
		&netIDBytes, &gateway.Name, &gateway.Description, &gateway.Position,
		&gateway.LastReceiveAt, &gateway.NetworkServerID, &gateway.GatewayProfileID,
		&gateway.Tags,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copy(gateway.GatewayID[:], gatewayIDBytes)
	copy(gateway.NetID[:], netIDBytes)

	return gateway, nil
}

func (s *PostgresStore) DeleteGateway(ctx context.Context, gatewayID lorawan.EUI64) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM gateways WHERE gateway_id = $1", gatewayID[:])
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

func (s *PostgresStore) ListGateways(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Gateway, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM gateways WHERE tenant_id = $1", tenantID,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT gateway_id, created_at, updated_at, tenant_id, net_id, name,
               description, position, last_receive_at
        FROM gateways
        WHERE tenant_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var gateways []*models.Gateway
	for rows.Next() {
		gateway := &models.Gateway{}
		var gatewayIDBytes, netIDBytes []byte

		err := rows.Scan(
			&gatewayIDBytes, &gateway.CreatedAt, &gateway.UpdatedAt, &gateway.TenantID,
			&netIDBytes, &gateway.Name, &gateway.Description, &gateway.Position,
			&gateway.LastReceiveAt,
		)
		if err != nil {
			return nil, 0, err
		}

		copy(gateway.GatewayID[:], gatewayIDBytes)
		copy(gateway.NetID[:], netIDBytes)
		gateways = append(gateways, gateway)
	}

	return gateways, count, nil
}
