package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData = errors.New("invalid data")
)

// Store is the session-store adapter (C4). The MAC engine (C5-C8) runs
// its multi-step Link/Device sequences (e.g. read Link, verify MIC,
// write Link) through a transaction obtained via BeginTx, so they commit
// atomically: the engine's atomic(fn) is BeginTx, fn(tx),
// Commit-or-Rollback. Single-step calls (gateway status, pending
// downlink, RX/TX log, ignored-link list) go to the store directly.
type Store interface {
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Gateway.
	GetGateway(ctx context.Context, gatewayID lorawan.EUI64) (*models.Gateway, error)
	PutGateway(ctx context.Context, gateway *models.Gateway) error
	DeleteGateway(ctx context.Context, gatewayID lorawan.EUI64) error
	ListGateways(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Gateway, int64, error)

	// Device.
	GetDevice(ctx context.Context, devEUI lorawan.EUI64) (*models.Device, error)
	PutDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, devEUI lorawan.EUI64) error
	ListDevices(ctx context.Context, applicationID uuid.UUID, limit, offset int) ([]*models.Device, int64, error)

	// Link (active session, keyed by DevAddr). GetLink returns
	// ErrNotFound for an unbound DevAddr; the uplink engine checks
	// IgnoredLinks before this lookup and reports an unknown DevAddr
	// when it fails.
	GetLink(ctx context.Context, devAddr lorawan.DevAddr) (*models.Link, error)
	PutLink(ctx context.Context, link *models.Link) error
	DeleteLink(ctx context.Context, devAddr lorawan.DevAddr) error

	// Ignored links: DevAddr patterns checked before MIC verification.
	ListIgnoredLinks(ctx context.Context) ([]*models.IgnoredLink, error)
	PutIgnoredLink(ctx context.Context, l *models.IgnoredLink) error
	DeleteIgnoredLink(ctx context.Context, devAddr lorawan.DevAddr) error

	// Multicast groups.
	GetMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) (*models.MulticastGroup, error)
	PutMulticastGroup(ctx context.Context, g *models.MulticastGroup) error
	DeleteMulticastGroup(ctx context.Context, devAddr lorawan.DevAddr) error

	// Pending downlink: at most one per DevAddr, replaced wholesale.
	GetPendingDownlink(ctx context.Context, devAddr lorawan.DevAddr) (*models.PendingDownlink, error)
	PutPendingDownlink(ctx context.Context, p *models.PendingDownlink) error
	DeletePendingDownlink(ctx context.Context, devAddr lorawan.DevAddr) error

	// RX frame log: append-only, monotonically keyed.
	PutRXFrame(ctx context.Context, f *models.RXFrame) error
	ListRXFrames(ctx context.Context, devEUI lorawan.EUI64, limit, offset int) ([]*models.RXFrame, int64, error)
	GetLastGatewayForDevice(ctx context.Context, devEUI lorawan.EUI64) (lorawan.EUI64, bool, error)

	// TX frame log, for retransmission bookkeeping (written by the
	// downlink engine). PurgeTXFrames drops frames older than before,
	// independent of ack state (spec's exported retention knob).
	// PurgeTXFramesForDevAddr is the join engine's purge_tx_frames(devaddr)
	// (/§4.5 step 6): every TX-log row for one DevAddr, regardless
	// of age, cleared on (re)join so a stale retransmit can't outlive the
	// session it belonged to.
	PutTXFrame(ctx context.Context, f *models.TXFrame) error
	MarkTXFrameAcked(ctx context.Context, devAddr lorawan.DevAddr, fCnt uint32, at time.Time) error
	PurgeTXFrames(ctx context.Context, before time.Time) (int64, error)
	PurgeTXFramesForDevAddr(ctx context.Context, devAddr lorawan.DevAddr) error

	// ---- Ambient admin-API storage (users, tenants, applications,
	// device profiles, event log). Not touched by the MAC engine. ----

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*models.User, int64, error)

	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, id uuid.UUID) error
	ListTenants(ctx context.Context, limit, offset int) ([]*models.Tenant, int64, error)

	CreateApplication(ctx context.Context, app *models.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	UpdateApplication(ctx context.Context, app *models.Application) error
	DeleteApplication(ctx context.Context, id uuid.UUID) error
	ListApplications(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.Application, int64, error)

	CreateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error
	GetDeviceProfile(ctx context.Context, id uuid.UUID) (*models.DeviceProfile, error)
	UpdateDeviceProfile(ctx context.Context, profile *models.DeviceProfile) error
	DeleteDeviceProfile(ctx context.Context, id uuid.UUID) error
	ListDeviceProfiles(ctx context.Context, tenantID *uuid.UUID, limit, offset int) ([]*models.DeviceProfile, int64, error)

	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	TenantID *uuid.UUID
	ApplicationID *uuid.UUID
	DevEUI *lorawan.EUI64
	GatewayID *lorawan.EUI64
	Type *models.EventType
	Level *models.EventLevel
	StartTime *time.Time
	EndTime *time.Time
}
