package server

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lorawan-server/lorawan-server-pro/internal/appdispatch"
	"github.com/lorawan-server/lorawan-server-pro/internal/engine"
	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// GatewayBridgeSubscriber feeds internal/gateway's UDP packet forwarder
// into the MAC engine: it subscribes the `gateway.*.rx`/`gateway.*.stat`
// subjects the packet forwarder publishes, and for an ActionSend result
// publishes back on `gateway.*.tx` with the context+timing envelope the
// packet forwarder's sendDownlink already knows how to schedule.
//
// This mirrors the original network-server/gateway-bridge process
// split (`internal/network/processor.go`'s NATS rx/tx subjects):
// the engine here takes the place of `Processor.handleUplink`.
type GatewayBridgeSubscriber struct {
	nc   *nats.Conn
	eng  *engine.Engine
	subs []*nats.Subscription

	// dedup collapses concurrent handleRX calls for the same raw PHY
	// payload into one engine.ProcessFrame call: overlapping gateway
	// coverage means the same uplink routinely arrives on two or three
	// `gateway.*.rx` subjects within milliseconds of each other.
	dedup singleflight.Group
}

func NewGatewayBridgeSubscriber(nc *nats.Conn, eng *engine.Engine) *GatewayBridgeSubscriber {
	return &GatewayBridgeSubscriber{nc: nc, eng: eng}
}

func (s *GatewayBridgeSubscriber) Start(ctx context.Context) error {
	rxSub, err := s.nc.Subscribe("gateway.*.rx", func(msg *nats.Msg) { s.handleRX(ctx, msg) })
	if err != nil {
		return fmt.Errorf("subscribe gateway rx: %w", err)
	}
	s.subs = append(s.subs, rxSub)

	statSub, err := s.nc.Subscribe("gateway.*.stat", func(msg *nats.Msg) { s.handleStat(ctx, msg) })
	if err != nil {
		return fmt.Errorf("subscribe gateway stat: %w", err)
	}
	s.subs = append(s.subs, statSub)

	downSub, err := s.nc.Subscribe("application.*.device.*.down", func(msg *nats.Msg) { s.handleDownlinkRequest(ctx, msg) })
	if err != nil {
		return fmt.Errorf("subscribe downlink requests: %w", err)
	}
	s.subs = append(s.subs, downSub)

	<-ctx.Done()
	var eg errgroup.Group
	for _, sub := range s.subs {
		sub := sub
		eg.Go(sub.Unsubscribe)
	}
	if err := eg.Wait(); err != nil {
		log.Warn().Err(err).Msg("gateway bridge: unsubscribe on shutdown")
	}
	return ctx.Err()
}

type gatewayRXMsg struct {
	GatewayID string          `json:"gatewayID"`
	RXPK      json.RawMessage `json:"rxpk"`
	Context   string          `json:"context"`
	Timestamp int64           `json:"timestamp"`
}

type rxpk struct {
	Tmst float64 `json:"tmst"`
	Freq float64 `json:"freq"`
	Datr string  `json:"datr"`
	Rssi float64 `json:"rssi"`
	Lsnr float64 `json:"lsnr"`
	Data string  `json:"data"`
	Size int     `json:"size"`
}

func (s *GatewayBridgeSubscriber) handleRX(ctx context.Context, msg *nats.Msg) {
	var m gatewayRXMsg
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Msg("gateway bridge: decode rx message")
		return
	}
	var pk rxpk
	if err := json.Unmarshal(m.RXPK, &pk); err != nil {
		log.Error().Err(err).Str("gateway", m.GatewayID).Msg("gateway bridge: decode rxpk")
		return
	}

	gatewayMAC, err := parseGatewayID(m.GatewayID)
	if err != nil {
		log.Error().Err(err).Str("gateway", m.GatewayID).Msg("gateway bridge: parse gateway id")
		return
	}
	phy, err := base64.StdEncoding.DecodeString(pk.Data)
	if err != nil {
		log.Error().Err(err).Str("gateway", m.GatewayID).Msg("gateway bridge: decode phy payload")
		return
	}

	rxq := engine.RxQ{
		Frequency:                       uint32(pk.Freq * 1e6),
		DataRate:                        pk.Datr,
		SNR:                             pk.Lsnr,
		RSSI:                            int(pk.Rssi),
		ServerMonotonicReceiveTimestamp: time.Now(),
	}

	dedupKey := hex.EncodeToString(phy)
	result, _, shared := s.dedup.Do(dedupKey, func() (interface{}, error) {
		return s.eng.ProcessFrame(ctx, gatewayMAC, rxq, phy), nil
	})
	action := result.(engine.Action)
	if shared {
		log.Debug().Str("gateway", m.GatewayID).Msg("gateway bridge: duplicate frame from another gateway, reusing result")
	}

	switch action.Kind {
	case engine.ActionSend:
		s.publishTx(m.GatewayID, m.Context, action)
	case engine.ActionError:
		log.Warn().Str("gateway", m.GatewayID).Str("kind", string(action.Err.Kind)).Err(action.Err).Msg("gateway bridge: frame rejected")
	}
}

type downlinkRequestMsg struct {
	DevAddr   string `json:"devAddr"`
	FPort     *uint8 `json:"fPort,omitempty"`
	Data      string `json:"data,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// handleDownlinkRequest serves application-initiated sends queued by the
// admin API's downlink endpoint: no inbound frame carries the
// gateway/timestamp context here, so the reply always goes out as an
// immediate transmission rather than an RX2-scheduled one.
func (s *GatewayBridgeSubscriber) handleDownlinkRequest(ctx context.Context, msg *nats.Msg) {
	var req downlinkRequestMsg
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Error().Err(err).Msg("gateway bridge: decode downlink request")
		return
	}
	var devAddr lorawan.DevAddr
	raw, err := hex.DecodeString(req.DevAddr)
	if err != nil || len(raw) != 4 {
		log.Error().Str("devAddr", req.DevAddr).Msg("gateway bridge: invalid devAddr in downlink request")
		return
	}
	copy(devAddr[:], raw)

	var data []byte
	if req.Data != "" {
		data, err = base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			log.Error().Err(err).Str("devAddr", req.DevAddr).Msg("gateway bridge: decode downlink payload")
			return
		}
	}

	action := s.eng.HandleDownlink(ctx, devAddr, appdispatch.TxData{FPort: req.FPort, Data: data, Confirmed: req.Confirmed})
	switch action.Kind {
	case engine.ActionSend:
		s.publishTxImmediate(hex.EncodeToString(action.GatewayMAC[:]), action)
	case engine.ActionError:
		log.Warn().Str("devAddr", req.DevAddr).Str("kind", string(action.Err.Kind)).Err(action.Err).Msg("gateway bridge: downlink request rejected")
	}
}

func (s *GatewayBridgeSubscriber) handleStat(ctx context.Context, msg *nats.Msg) {
	var m struct {
		GatewayID string `json:"gatewayID"`
		Stat      struct {
			Lati *float64 `json:"lati"`
			Long *float64 `json:"long"`
			Alti *float64 `json:"alti"`
			Desc string   `json:"desc"`
		} `json:"stat"`
	}
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Error().Err(err).Msg("gateway bridge: decode stat message")
		return
	}
	gatewayMAC, err := parseGatewayID(m.GatewayID)
	if err != nil {
		log.Error().Err(err).Str("gateway", m.GatewayID).Msg("gateway bridge: parse gateway id")
		return
	}

	status := engine.GatewayStatus{Description: m.Stat.Desc}
	if m.Stat.Lati != nil && m.Stat.Long != nil {
		status.HasPosition = true
		status.Latitude = *m.Stat.Lati
		status.Longitude = *m.Stat.Long
	}
	if m.Stat.Alti != nil {
		status.HasAltitude = true
		status.Altitude = *m.Stat.Alti
	}

	if action := s.eng.ProcessStatus(ctx, gatewayMAC, status); action.Kind == engine.ActionError {
		log.Warn().Str("gateway", m.GatewayID).Err(action.Err).Msg("gateway bridge: status rejected")
	}
}

// publishTx re-wraps an ActionSend as the context+timing envelope
// internal/gateway's sendDownlink decodes: the original uplink's tmst is
// threaded through verbatim via context, and Window (1 or 2) becomes the
// fixed RX1/RX2 delay the packet forwarder adds to it.
func (s *GatewayBridgeSubscriber) publishTx(gatewayID, context string, action engine.Action) {
	delay := "1s"
	if action.TxQ.Window == 2 {
		delay = "2s"
	}

	txpk := map[string]interface{}{
		"imme": false,
		"freq": float64(action.TxQ.Frequency) / 1e6,
		"datr": action.TxQ.DataRate,
		"codr": "4/5",
		"ipol": true,
		"size": len(action.PHY),
		"data": base64.StdEncoding.EncodeToString(action.PHY),
	}
	msg := map[string]interface{}{
		"gatewayID": gatewayID,
		"txpk":      txpk,
		"context":   context,
		"timing":    map[string]interface{}{"delay": delay},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("gateway", gatewayID).Msg("gateway bridge: marshal tx message")
		return
	}
	subject := fmt.Sprintf("gateway.%s.tx", gatewayID)
	if err := s.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("gateway", gatewayID).Msg("gateway bridge: publish tx message")
	}
}

// publishTxImmediate sends an ActionSend with no context/timing envelope,
// for a server-initiated downlink with no matching uplink to schedule
// against: the packet forwarder falls back to its immediate-send mode.
func (s *GatewayBridgeSubscriber) publishTxImmediate(gatewayID string, action engine.Action) {
	txpk := map[string]interface{}{
		"imme": true,
		"freq": float64(action.TxQ.Frequency) / 1e6,
		"datr": action.TxQ.DataRate,
		"codr": "4/5",
		"ipol": true,
		"size": len(action.PHY),
		"data": base64.StdEncoding.EncodeToString(action.PHY),
	}
	msg := map[string]interface{}{
		"gatewayID": gatewayID,
		"txpk":      txpk,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("gateway", gatewayID).Msg("gateway bridge: marshal tx message")
		return
	}
	subject := fmt.Sprintf("gateway.%s.tx", gatewayID)
	if err := s.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("gateway", gatewayID).Msg("gateway bridge: publish tx message")
	}
}

func parseGatewayID(id string) (lorawan.EUI64, error) {
	var mac lorawan.EUI64
	if len(id) != 16 {
		return mac, fmt.Errorf("gateway id %q: want 16 hex chars", id)
	}
	for i := 0; i < 8; i++ {
		var b byte
		if _, err := fmt.Sscanf(id[i*2:i*2+2], "%02x", &b); err != nil {
			return mac, err
		}
		mac[i] = b
	}
	return mac, nil
}
