// Package appdispatch implements the application dispatcher collaborator:
// it hands decoded uplinks and join events to whatever sits above the MAC
// engine, decoupling the engine from the transport (NATS in this
// deployment, grounded on the original publishUplinkData/publishJoinEvent).
package appdispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/models"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// RxData is the decoded uplink handed to HandleRX.
type RxData struct {
	FCnt       uint32
	FPort      *uint8
	Data       []byte
	LastLost   bool
	ShallReply bool
}

// TxData is what the application wants transmitted back, or queued.
type TxData struct {
	FPort     *uint8
	Data      []byte
	Pending   bool
	Confirmed bool
}

// RXOutcome is HandleRX's result tag: ok | retransmit | send.
type RXOutcome int

const (
	RXOk RXOutcome = iota
	RXRetransmit
	RXSend
)

type RXResult struct {
	Outcome RXOutcome
	TxData  TxData
}

// Dispatcher is the application dispatcher contract.
type Dispatcher interface {
	HandleJoin(ctx context.Context, devAddr lorawan.DevAddr, devEUI lorawan.EUI64, applicationID uuid.UUID, appArgs models.Variables) error
	HandleRX(ctx context.Context, devAddr lorawan.DevAddr, devEUI lorawan.EUI64, applicationID uuid.UUID, appArgs models.Variables, rx RxData, rxq models.RxQ) (RXResult, error)
}

// NATSDispatcher publishes to subjects the application-server and
// integration layer subscribe to, grounded on the original
// publishUplinkData/publishJoinEvent NATS calls. Dispatch in this
// deployment is fire-and-forget: HandleRX always resolves to RXOk, since
// nothing downstream of the publish can hand back a synchronous TxData
// the way an in-process application callback could.
type NATSDispatcher struct {
	nc *nats.Conn
}

func NewNATSDispatcher(nc *nats.Conn) *NATSDispatcher {
	return &NATSDispatcher{nc: nc}
}

type joinEventMsg struct {
	ApplicationID uuid.UUID       `json:"applicationId"`
	DevEUI        lorawan.EUI64   `json:"devEUI"`
	DevAddr       lorawan.DevAddr `json:"devAddr"`
	JoinedAt      time.Time       `json:"joinedAt"`
}

type uplinkEventMsg struct {
	ApplicationID uuid.UUID       `json:"applicationId"`
	DevEUI        lorawan.EUI64   `json:"devEUI"`
	DevAddr       lorawan.DevAddr `json:"devAddr"`
	FCnt          uint32          `json:"fCnt"`
	FPort         *uint8          `json:"fPort,omitempty"`
	Data          []byte          `json:"data,omitempty"`
	RxQ           models.RxQ      `json:"rxq"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

func (d *NATSDispatcher) HandleJoin(ctx context.Context, devAddr lorawan.DevAddr, devEUI lorawan.EUI64, applicationID uuid.UUID, appArgs models.Variables) error {
	payload, err := json.Marshal(joinEventMsg{
		ApplicationID: applicationID,
		DevEUI:        devEUI,
		DevAddr:       devAddr,
		JoinedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal join event: %w", err)
	}
	subject := fmt.Sprintf("application.%s.device.%s.join", applicationID, devEUI)
	if err := d.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish join event: %w", err)
	}
	log.Debug().Str("subject", subject).Str("devAddr", devAddr.String()).Msg("dispatched join event")
	return nil
}

func (d *NATSDispatcher) HandleRX(ctx context.Context, devAddr lorawan.DevAddr, devEUI lorawan.EUI64, applicationID uuid.UUID, appArgs models.Variables, rx RxData, rxq models.RxQ) (RXResult, error) {
	payload, err := json.Marshal(uplinkEventMsg{
		ApplicationID: applicationID,
		DevEUI:        devEUI,
		DevAddr:       devAddr,
		FCnt:          rx.FCnt,
		FPort:         rx.FPort,
		Data:          rx.Data,
		RxQ:           rxq,
		ReceivedAt:    time.Now(),
	})
	if err != nil {
		return RXResult{}, fmt.Errorf("marshal uplink event: %w", err)
	}
	subject := fmt.Sprintf("application.%s.device.%s.up", applicationID, devEUI)
	if err := d.nc.Publish(subject, payload); err != nil {
		return RXResult{}, fmt.Errorf("publish uplink event: %w", err)
	}
	log.Debug().Str("subject", subject).Uint32("fCnt", rx.FCnt).Msg("dispatched uplink event")
	return RXResult{Outcome: RXOk}, nil
}
