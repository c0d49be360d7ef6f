// Package join implements the join and rejoin procedure of the join server.
package join

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/backend"
	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/lock"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/internal/storage"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

// Result is the outcome of a successful join transaction.
type Result struct {
	ID              uuid.UUID
	PHYPayload      []byte
	DevEUI          lorawan.EUI64
	JoinEUI         lorawan.EUI64
	DevAddr         lorawan.DevAddr
	Kind            Kind
	ProtocolVersion lorawan.ProtocolVersion
	FrequencyPlan   string
	DeviceConfig    *models.DeviceConfig
}

// Handler runs join transactions. It is safe for concurrent use: all
// request state lives in a joinContext created per call.
type Handler struct {
	store  storage.Store
	locker lock.Locker
	nonces lorawan.NonceSource
	conf   config.JoinConfig
}

// NewHandler creates a Handler.
func NewHandler(store storage.Store, locker lock.Locker, conf config.JoinConfig) *Handler {
	var nonces lorawan.NonceSource = lorawan.RandomNonceSource{}
	if conf.NonceMode == config.NonceModeCounter {
		nonces = lorawan.CounterNonceSource{}
	}

	return &Handler{
		store:  store,
		locker: locker,
		nonces: nonces,
		conf:   conf,
	}
}

// WithNonceSource replaces the JoinNonce source.
func (h *Handler) WithNonceSource(s lorawan.NonceSource) *Handler {
	h.nonces = s
	return h
}

type joinContext struct {
	ctx    context.Context
	id     uuid.UUID
	logger zerolog.Logger

	frame backend.UplinkFrame
	phy   lorawan.PHYPayload
	kind  Kind

	joinRequest   lorawan.JoinRequestPayload
	rejoinRequest lorawan.RejoinRequestPayload

	devEUI  lorawan.EUI64
	joinEUI lorawan.EUI64
	// devNonce is the DevNonce of a join, or RJcount0/RJcount1 of a rejoin.
	devNonce lorawan.DevNonce

	device *models.Device
	unlock func()

	devAddr      lorawan.DevAddr
	joinNonce    lorawan.JoinNonce
	sessionKeys  lorawan.SessionKeys
	plan         lorawan.FrequencyPlan
	deviceConfig *models.DeviceConfig
	joinAccept   lorawan.JoinAcceptPayload
	phyPayload   []byte
}

// Handle runs one join or rejoin transaction for the given uplink. Frames
// that are not join or rejoin requests, such as data uplinks, give a nil
// Result and ErrAbort.
func (h *Handler) Handle(ctx context.Context, frame backend.UplinkFrame) (*Result, error) {
	jctx := &joinContext{
		ctx:   ctx,
		id:    uuid.New(),
		frame: frame,
	}
	jctx.logger = log.With().
		Str("ctxID", jctx.id.String()).
		Str("gatewayID", frame.GatewayID).
		Logger()
	defer jctx.release()

	start := time.Now()

	for _, f := range []func(*joinContext) error{
		h.decodePHYPayload,
		h.abortOnDataFrame,
		h.classify,
		h.decodeRequest,
		h.getDevice,
		h.validateMIC,
		h.validateCounter,
		h.lockDevice,
		h.getDeviceLocked,
		h.validateCounter,
		h.setDevAddr,
		h.setJoinNonce,
		h.deriveSessionKeys,
		h.setDeviceConfig,
		h.setJoinAccept,
		h.packageJoinAccept,
		h.persist,
	} {
		if err := f(jctx); err != nil {
			return nil, err
		}
	}

	observeDuration(jctx.kind, start)

	jctx.logger.Info().
		Str("devEUI", jctx.devEUI.String()).
		Str("devAddr", jctx.devAddr.String()).
		Str("kind", jctx.kind.String()).
		Str("frequencyPlan", jctx.plan.Name).
		Msg("Join accepted")

	return &Result{
		ID:              jctx.id,
		PHYPayload:      jctx.phyPayload,
		DevEUI:          jctx.devEUI,
		JoinEUI:         jctx.joinEUI,
		DevAddr:         jctx.devAddr,
		Kind:            jctx.kind,
		ProtocolVersion: jctx.device.ProtocolVersion,
		FrequencyPlan:   jctx.plan.Name,
		DeviceConfig:    jctx.deviceConfig,
	}, nil
}

func (jctx *joinContext) release() {
	if jctx.unlock != nil {
		jctx.unlock()
		jctx.unlock = nil
	}
}

func (h *Handler) decodePHYPayload(jctx *joinContext) error {
	if err := jctx.phy.UnmarshalBinary(jctx.frame.PHYPayload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (h *Handler) abortOnDataFrame(jctx *joinContext) error {
	switch jctx.phy.MHDR.MType {
	case lorawan.UnconfirmedDataUp, lorawan.ConfirmedDataUp, lorawan.Proprietary:
		return ErrAbort
	}
	return nil
}

func (h *Handler) classify(jctx *joinContext) error {
	kind, err := Classify(jctx.phy)
	if err != nil {
		return err
	}
	jctx.kind = kind
	return nil
}

func (h *Handler) decodeRequest(jctx *joinContext) error {
	if jctx.kind == KindJoin {
		if err := jctx.joinRequest.UnmarshalBinary(jctx.phy.MACPayload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		jctx.devEUI = jctx.joinRequest.DevEUI
		jctx.joinEUI = jctx.joinRequest.JoinEUI
		jctx.devNonce = jctx.joinRequest.DevNonce
	} else {
		if err := jctx.rejoinRequest.UnmarshalBinary(jctx.phy.MACPayload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		jctx.devEUI = jctx.rejoinRequest.DevEUI
		jctx.joinEUI = jctx.rejoinRequest.JoinEUI
		jctx.devNonce = lorawan.DevNonce(jctx.rejoinRequest.RJCount)
	}

	jctx.logger = jctx.logger.With().
		Str("devEUI", jctx.devEUI.String()).
		Str("kind", jctx.kind.String()).
		Logger()
	jctx.logger.Debug().
		Uint16("devNonce", uint16(jctx.devNonce)).
		Uint32("frequency", jctx.frame.Frequency).
		Msg("Join request received")

	return nil
}

// readDevice loads the device and checks that it may take part in the
// transaction.
func (h *Handler) readDevice(jctx *joinContext, store storage.Store) (*models.Device, error) {
	d, err := store.GetDevice(jctx.ctx, jctx.devEUI)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotExist, jctx.devEUI)
		}
		return nil, storeError("get device", err)
	}

	if !d.Registered() {
		return nil, fmt.Errorf("%w: %s has no root keys", ErrDeviceNotExist, jctx.devEUI)
	}

	switch jctx.kind {
	case KindJoin:
		if d.JoinEUI != jctx.joinEUI {
			return nil, fmt.Errorf("%w: %s is not registered with JoinEUI %s", ErrDeviceNotExist, jctx.devEUI, jctx.joinEUI)
		}
	case KindRejoin1:
		if d.ProtocolVersion != lorawan.Version11 {
			return nil, fmt.Errorf("%w: rejoin from LoRaWAN %s device", ErrInvalidMessage, d.ProtocolVersion)
		}
		if d.JoinEUI != jctx.joinEUI {
			return nil, fmt.Errorf("%w: %s is not registered with JoinEUI %s", ErrDeviceNotExist, jctx.devEUI, jctx.joinEUI)
		}
	case KindRejoin0, KindRejoin2:
		if d.ProtocolVersion != lorawan.Version11 {
			return nil, fmt.Errorf("%w: rejoin from LoRaWAN %s device", ErrInvalidMessage, d.ProtocolVersion)
		}
		if jctx.rejoinRequest.NetID != h.conf.NetID {
			return nil, fmt.Errorf("%w: rejoin for NetID %s", ErrInvalidMessage, jctx.rejoinRequest.NetID)
		}
		if d.DevAddr == nil || d.JoinedAt == nil {
			return nil, fmt.Errorf("%w: rejoin without an active session", ErrInvalidMessage)
		}
		jctx.joinEUI = d.JoinEUI
	}

	return d, nil
}

func (h *Handler) getDevice(jctx *joinContext) error {
	d, err := h.readDevice(jctx, h.store)
	if err != nil {
		return err
	}
	jctx.device = d
	return nil
}

func (h *Handler) validateMIC(jctx *joinContext) error {
	d := jctx.device

	var mic lorawan.MIC
	var err error

	switch jctx.kind {
	case KindJoin:
		key := *d.AppKey
		if d.ProtocolVersion == lorawan.Version11 {
			key = *d.NwkKey
		}
		mic, err = lorawan.ComputeJoinRequestMIC(key, jctx.phy.MHDR, jctx.joinRequest)
	case KindRejoin1:
		var jsIntKey lorawan.AES128Key
		jsIntKey, _, err = lorawan.DeriveJSKeys(*d.NwkKey, d.DevEUI)
		if err == nil {
			mic, err = lorawan.ComputeRejoinRequestMIC(jsIntKey, jctx.phy.MHDR, jctx.rejoinRequest)
		}
	default:
		mic, err = lorawan.ComputeRejoinRequestMIC(d.SessionKeys.SNwkSIntKey, jctx.phy.MHDR, jctx.rejoinRequest)
	}
	if err != nil {
		return fmt.Errorf("compute mic: %w", err)
	}

	if !lorawan.VerifyMIC(mic, jctx.phy.MIC) {
		jctx.logger.Warn().Msg("Join request MIC mismatch")
		return ErrMICMismatch
	}
	return nil
}

func (h *Handler) validateCounter(jctx *joinContext) error {
	d := jctx.device
	n := uint16(jctx.devNonce)

	switch jctx.kind {
	case KindJoin:
		if d.DevNonce == nil {
			return nil
		}
		last := uint16(*d.DevNonce)
		if d.ProtocolVersion == lorawan.Version11 && n <= last {
			return fmt.Errorf("%w: DevNonce %d, last %d", ErrNonceReplay, n, last)
		}
		if n == last {
			return fmt.Errorf("%w: DevNonce %d", ErrNonceReplay, n)
		}
	case KindRejoin1:
		if n <= d.RJCount1 {
			return fmt.Errorf("%w: RJcount1 %d, last %d", ErrNonceReplay, n, d.RJCount1)
		}
	default:
		if n <= d.RJCount0 {
			return fmt.Errorf("%w: RJcount0 %d, last %d", ErrNonceReplay, n, d.RJCount0)
		}
	}
	return nil
}

func (h *Handler) lockDevice(jctx *joinContext) error {
	unlock, err := h.locker.Lock(jctx.ctx, jctx.devEUI)
	if err != nil {
		return storeError("lock device", err)
	}
	jctx.unlock = unlock
	return nil
}

// getDeviceLocked re-reads the device once the lock is held, so that a
// concurrent transaction for the same device is seen by validateCounter.
func (h *Handler) getDeviceLocked(jctx *joinContext) error {
	return h.getDevice(jctx)
}

func (h *Handler) setDevAddr(jctx *joinContext) error {
	if jctx.device.DevAddr != nil {
		jctx.devAddr = *jctx.device.DevAddr
		return nil
	}
	jctx.devAddr = lorawan.GenerateDevAddr(jctx.joinEUI, jctx.devEUI, h.conf.NwkID)
	return nil
}

func (h *Handler) setJoinNonce(jctx *joinContext) error {
	n, err := h.nonces.Next(jctx.device.LastJoinNonce())
	if err != nil {
		return fmt.Errorf("join nonce: %w", err)
	}
	jctx.joinNonce = n
	return nil
}

func (h *Handler) deriveSessionKeys(jctx *joinContext) error {
	d := jctx.device

	var err error
	switch d.ProtocolVersion {
	case lorawan.Version10:
		jctx.sessionKeys, err = lorawan.DeriveSessionKeys10(*d.AppKey, jctx.joinNonce, h.conf.NetID, jctx.devNonce)
	case lorawan.Version11:
		jctx.sessionKeys, err = lorawan.DeriveSessionKeys11(*d.NwkKey, *d.AppKey, jctx.joinNonce, jctx.joinEUI, jctx.devEUI, jctx.devNonce)
	default:
		err = fmt.Errorf("unsupported protocol version %s", d.ProtocolVersion)
	}
	if err != nil {
		return fmt.Errorf("derive session keys: %w", err)
	}
	return nil
}

func (h *Handler) setDeviceConfig(jctx *joinContext) error {
	plan, err := lorawan.ResolvePlan(jctx.frame.Frequency, h.conf.FrequencyPlans)
	if err != nil {
		return err
	}
	if h.conf.RX1DROffset != nil {
		plan.Defaults.RX1DROffset = *h.conf.RX1DROffset
	}
	if h.conf.RX2DataRate != nil {
		plan.Defaults.RX2DataRate = *h.conf.RX2DataRate
	}
	plan.Defaults.RxDelay = h.conf.RxDelay

	jctx.plan = plan
	jctx.deviceConfig = models.NewDeviceConfig(jctx.devAddr, jctx.devEUI, plan)
	return nil
}

func (h *Handler) setJoinAccept(jctx *joinContext) error {
	cfList, err := jctx.plan.Defaults.CFList()
	if err != nil {
		return fmt.Errorf("cflist: %w", err)
	}

	jctx.joinAccept = lorawan.JoinAcceptPayload{
		JoinNonce: jctx.joinNonce,
		NetID:     h.conf.NetID,
		DevAddr:   jctx.devAddr,
		DLSettings: lorawan.DLSettings{
			OptNeg:      jctx.device.ProtocolVersion == lorawan.Version11,
			RX1DROffset: jctx.plan.Defaults.RX1DROffset,
			RX2DataRate: jctx.plan.Defaults.RX2DataRate,
		},
		RxDelay: lorawan.RxDelay(jctx.plan.Defaults.RxDelay),
		CFList:  cfList,
	}
	return nil
}

// persist writes the device record and its config in one transaction. It runs
// last, so a failure in any earlier step leaves the store untouched.
func (h *Handler) persist(jctx *joinContext) (err error) {
	d := *jctx.device
	now := time.Now()

	d.DevAddr = &jctx.devAddr
	d.JoinNonce = jctx.joinNonce.Uint32()
	d.SessionKeys = jctx.sessionKeys
	d.JoinedAt = &now

	switch jctx.kind {
	case KindJoin:
		devNonce := jctx.devNonce
		d.DevNonce = &devNonce
		if d.ProtocolVersion == lorawan.Version11 {
			d.RJCount0 = 0
			d.RJCount1 = 0
		}
	case KindRejoin1:
		d.RJCount1 = uint16(jctx.devNonce)
	default:
		d.RJCount0 = uint16(jctx.devNonce)
	}

	tx, err := h.store.BeginTx(jctx.ctx)
	if err != nil {
		return storeError("begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				jctx.logger.Error().Err(rbErr).Msg("Failed to roll back join transaction")
			}
		}
	}()

	if err = tx.UpdateDeviceJoin(jctx.ctx, &d); err != nil {
		return storeError("update device", err)
	}
	if err = tx.UpsertDeviceConfig(jctx.ctx, jctx.deviceConfig); err != nil {
		return storeError("upsert device config", err)
	}
	if err = tx.Commit(); err != nil {
		return storeError("commit", err)
	}

	jctx.device = &d
	return nil
}

func (h *Handler) packageJoinAccept(jctx *joinContext) error {
	d := jctx.device

	opts := lorawan.JoinAcceptOptions{
		Version:  d.ProtocolVersion,
		ReqType:  jctx.kind.JoinReqType(),
		Payload:  jctx.joinAccept,
		JoinEUI:  jctx.joinEUI,
		DevNonce: jctx.devNonce,
		AppKey:   *d.AppKey,
	}
	if d.ProtocolVersion == lorawan.Version11 {
		opts.NwkKey = *d.NwkKey
		opts.JSIntKey = jctx.sessionKeys.JSIntKey
		opts.JSEncKey = jctx.sessionKeys.JSEncKey
	}

	b, err := lorawan.PackageJoinAccept(opts)
	if err != nil {
		return fmt.Errorf("package join-accept: %w", err)
	}
	jctx.phyPayload = b
	return nil
}
