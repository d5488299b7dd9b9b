package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// NATSSubscriber feeds the network server's application-dispatch events
// (internal/appdispatch.NATSDispatcher's `.up`/`.join` subjects) into the
// event log, giving the admin API a live audit trail of what devices did
// without the application-server process talking to the engine directly.
type NATSSubscriber struct {
	nc    *nats.Conn
	store storage.Store
	subs  []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, store storage.Store) *NATSSubscriber {
	return &NATSSubscriber{
		nc:    nc,
		store: store,
		subs:  make([]*nats.Subscription, 0),
	}
}

// Start subscribes to the application-dispatch subjects and blocks until
// ctx is cancelled.
func (s *NATSSubscriber) Start(ctx context.Context) error {
	upSub, err := s.nc.Subscribe("application.*.device.*.up", s.handleApplicationUplink)
	if err != nil {
		return fmt.Errorf("subscribe application uplink: %w", err)
	}
	s.subs = append(s.subs, upSub)

	joinSub, err := s.nc.Subscribe("application.*.device.*.join", s.handleJoinNotification)
	if err != nil {
		return fmt.Errorf("subscribe join notification: %w", err)
	}
	s.subs = append(s.subs, joinSub)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

type uplinkEventMsg struct {
	ApplicationID uuid.UUID       `json:"applicationId"`
	DevEUI        lorawan.EUI64   `json:"devEUI"`
	DevAddr       lorawan.DevAddr `json:"devAddr"`
	FCnt          uint32          `json:"fCnt"`
	FPort         *uint8          `json:"fPort,omitempty"`
	Data          []byte          `json:"data,omitempty"`
}

// handleApplicationUplink records an uplink event for the admin API's
// event log.
func (s *NATSSubscriber) handleApplicationUplink(msg *nats.Msg) {
	var m uplinkEventMsg
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("nats subscriber: decode uplink event")
		return
	}

	var fPort uint8
	if m.FPort != nil {
		fPort = *m.FPort
	}

	devEUI := m.DevEUI
	event := &models.EventLog{
		ApplicationID: &m.ApplicationID,
		DevEUI:        &devEUI,
		Type:          models.EventTypeUplink,
		Level:         models.EventLevelInfo,
		Description:   fmt.Sprintf("uplink received: fCnt=%d fPort=%d", m.FCnt, fPort),
		Details: models.Variables{
			"fCnt":     m.FCnt,
			"fPort":    fPort,
			"dataSize": len(m.Data),
		},
	}

	if err := s.store.CreateEventLog(context.Background(), event); err != nil {
		log.Error().Err(err).Msg("nats subscriber: create event log")
		return
	}

	log.Info().
		Str("devEUI", m.DevEUI.String()).
		Uint32("fCnt", m.FCnt).
		Msg("application uplink logged")
}

type joinEventMsg struct {
	ApplicationID uuid.UUID       `json:"applicationId"`
	DevEUI        lorawan.EUI64   `json:"devEUI"`
	DevAddr       lorawan.DevAddr `json:"devAddr"`
}

// handleJoinNotification records a join event for the admin API's event
// log.
func (s *NATSSubscriber) handleJoinNotification(msg *nats.Msg) {
	var m joinEventMsg
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("nats subscriber: decode join event")
		return
	}

	devEUI := m.DevEUI
	event := &models.EventLog{
		ApplicationID: &m.ApplicationID,
		DevEUI:        &devEUI,
		Type:          models.EventTypeJoin,
		Level:         models.EventLevelInfo,
		Description:   "device joined network",
		Details: models.Variables{
			"devAddr": m.DevAddr.String(),
		},
	}

	if err := s.store.CreateEventLog(context.Background(), event); err != nil {
		log.Error().Err(err).Msg("nats subscriber: create event log")
		return
	}

	log.Info().
		Str("devEUI", m.DevEUI.String()).
		Str("devAddr", m.DevAddr.String()).
		Msg("device join logged")
}
