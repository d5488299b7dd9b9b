// Package engine implements the LoRaWAN 1.0.1 Class-A MAC protocol engine:
// join handling, uplink processing, downlink encoding, and gateway status
// bookkeeping. It is the stateful core the gateway transport, region
// table, MAC-command handler, application dispatcher, and session store
// all feed into or are driven by.
package engine

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-pro/internal/appdispatch"
	"github.com/lorawan-server/lorawan-server-pro/internal/machandler"
	"github.com/lorawan-server/lorawan-server-pro/internal/region"
	"github.com/lorawan-server/lorawan-server-pro/internal/storage"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// Deps are the engine's external collaborators. Region resolves a
// Device's region tag to its Table; the MAC engine never branches on
// region name itself.
type Deps struct {
	Store      storage.Store
	Region     func(tag string) (region.Table, error)
	MACHandler machandler.Handler
	Dispatcher appdispatch.Dispatcher

	// NetID is this network server's 3-byte network identifier, used both
	// in join-accept MACPayload and to compute a freshly allocated
	// DevAddr's NwkID bits.
	NetID [3]byte

	// PreprocessingDelay is the configured preprocessing delay: time
	// budgeted for MAC processing before the RX1 window closes,
	// subtracted from the RX1 deadline in chooseTx.
	PreprocessingDelay time.Duration
}

// Engine is the stateful MAC protocol core.
type Engine struct {
	store              storage.Store
	region             func(tag string) (region.Table, error)
	mac                machandler.Handler
	dispatch           appdispatch.Dispatcher
	netID              [3]byte
	preprocessingDelay time.Duration
}

func New(deps Deps) *Engine {
	return &Engine{
		store:              deps.Store,
		region:             deps.Region,
		mac:                deps.MACHandler,
		dispatch:           deps.Dispatcher,
		netID:              deps.NetID,
		preprocessingDelay: deps.PreprocessingDelay,
	}
}

// ActionKind tags what the gateway transport should do with an Action.
type ActionKind int

const (
	// ActionNone: nothing to transmit, not an error (silent drop or a
	// plain "ok" application response).
	ActionNone ActionKind = iota
	// ActionSend: transmit PHY on TxQ.
	ActionSend
	// ActionError: diagnostic, nothing transmitted.
	ActionError
)

// TxQ describes the window and radio parameters to transmit PHY on.
type TxQ struct {
	Frequency uint32
	DataRate  string
	// Window is 1 or 2, naming which of the device's RX windows this
	// transmission targets.
	Window int
}

// Action is ProcessFrame's/ProcessStatus's result. GatewayMAC is only
// meaningful for a server-initiated send (HandleDownlink), where there
// is no inbound frame whose gateway the reply can piggyback on.
type Action struct {
	Kind       ActionKind
	TxQ        TxQ
	PHY        []byte
	GatewayMAC lorawan.EUI64
	Err        *Error
}

func actionNone() Action        { return Action{Kind: ActionNone} }
func actionErr(e *Error) Action { return Action{Kind: ActionError, Err: e} }
func actionSend(txq TxQ, phy []byte) Action {
	return Action{Kind: ActionSend, TxQ: txq, PHY: phy}
}

// ProcessFrame is the gateway transport's entry point for a received PHY
// payload. gatewayMAC and rxq are the radio context the packet-forwarder
// protocol supplies alongside the bytes.
func (e *Engine) ProcessFrame(ctx context.Context, gatewayMAC lorawan.EUI64, rxq RxQ, phy []byte) Action {
	var p lorawan.PHYPayload
	if err := p.UnmarshalBinary(phy); err != nil {
		return actionErr(newError(ErrBadFrame, "", err))
	}

	switch p.MHDR.MType {
	case lorawan.JoinRequest:
		return e.handleJoinRequest(ctx, gatewayMAC, rxq, &p)
	case lorawan.UnconfirmedDataUp, lorawan.ConfirmedDataUp:
		return e.handleDataUp(ctx, gatewayMAC, rxq, &p)
	default:
		// MType outside the defined set for the uplink direction: silent
		// drop, not an error.
		log.Debug().Uint8("mtype", byte(p.MHDR.MType)).Msg("engine: dropping frame with non-uplink MType")
		return actionNone()
	}
}

// RxQ is the radio-layer metadata carried alongside a received frame,
// mirrored from models.RxQ so the engine's public surface doesn't force
// callers to import internal/models directly for this one value.
type RxQ struct {
	Frequency                       uint32
	DataRate                        string
	SNR                             float64
	RSSI                            int
	ServerMonotonicReceiveTimestamp time.Time
}

// newAppNonce draws 3 cryptographically random bytes for a join-accept.
func newAppNonce() ([3]byte, error) {
	var n [3]byte
	_, err := rand.Read(n[:])
	return n, err
}

// allocateDevAddr builds a fresh DevAddr: NwkID(7b) ‖ 0(1b) ‖ random(24b),
// where NwkID is the low 7 bits of this server's NetID.
func allocateDevAddr(netID [3]byte) (lorawan.DevAddr, error) {
	var addr lorawan.DevAddr
	if _, err := rand.Read(addr[1:]); err != nil {
		return addr, err
	}
	nwkID := netID[2] & 0x7F
	addr[0] = nwkID << 1
	return addr, nil
}
