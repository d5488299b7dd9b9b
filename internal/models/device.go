package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-server-pro/pkg/lorawan"
)

// FCntCheckMode is the frame-counter-check discipline a Device requests for
// its Link (/§4.6).
type FCntCheckMode string

const (
	FCntCheckStrict16 FCntCheckMode = "strict-16"
	FCntCheckStrict32 FCntCheckMode = "strict-32"
	FCntCheckResetAllowed FCntCheckMode = "reset-allowed"
	FCntCheckDisabled FCntCheckMode = "disabled"
)

// Device is the OTAA record keyed by DevEUI. AppKey and the
// join/application binding are provisioning data; the active Link (session)
// lives separately, keyed by DevAddr, in the Link table.
type Device struct {
	TenantModel

	DevEUI lorawan.EUI64 `json:"devEUI" db:"dev_eui"`
	AppKey lorawan.AES128Key `json:"-" db:"app_key"`
	CanJoin bool `json:"canJoin" db:"can_join"`

	Name string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	// Region tag, resolved against internal/region.Get.
	Region string `json:"region" db:"region"`

	// Application binding: (app, appid, appargs) 
	ApplicationID uuid.UUID `json:"applicationId" db:"application_id"`
	DeviceProfileID uuid.UUID `json:"deviceProfileId" db:"device_profile_id"`
	AppArgs Variables `json:"appArgs,omitempty" db:"app_args"`

	// Initial ADR flag and FCnt-check mode, copied onto the Link at join
	// ( step 5). The Device carries no RX-window settings; the Link's RX
	// window always starts from the region table's default.
	InitialADR bool `json:"initialADR" db:"initial_adr"`
	FCntCheck FCntCheckMode `json:"fCntCheck" db:"f_cnt_check"`

	// DevAddr of the current Link, if any (absent before first join).
	DevAddr *lorawan.DevAddr `json:"devAddr,omitempty" db:"dev_addr"`

	LastJoin *time.Time `json:"lastJoin,omitempty" db:"last_join"`

	IsDisabled bool `json:"isDisabled" db:"is_disabled"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`

	Application *Application `json:"application,omitempty" db:"-"`
	Profile *DeviceProfile `json:"profile,omitempty" db:"-"`
}

// DeviceProfile groups LoRaWAN capability settings shared by devices.
type DeviceProfile struct {
	BaseModel
	TenantID *uuid.UUID `json:"tenantId,omitempty" db:"tenant_id"`

	Name string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	MACVersion string `json:"macVersion" db:"mac_version"`
	RegParamsRevision string `json:"regParamsRevision" db:"reg_params_revision"`
	MaxEIRP int `json:"maxEIRP" db:"max_eirp"`
	RFRegion string `json:"rfRegion" db:"rf_region"`
	SupportsJoin bool `json:"supportsJoin" db:"supports_join"`

	UplinkInterval int `json:"uplinkInterval" db:"uplink_interval"`
}
