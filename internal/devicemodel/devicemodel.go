// Package devicemodel implements device registration: the step that turns
// a successful C2 attestation into a persisted store.Device record.
package devicemodel

import (
	"fmt"
	"time"

	"github.com/LucaDeLeo/realitycam/internal/apierr"
	"github.com/LucaDeLeo/realitycam/internal/attestation"
	"github.com/LucaDeLeo/realitycam/internal/store"
	"github.com/google/uuid"
)

// RegisterInput carries the client-declared device facts that accompany
// an attestation.
type RegisterInput struct {
	Platform      store.Platform
	HardwareModel string
	LiDARCapable  bool
}

// Register persists a new device record from a verified attestation
// result, assigning it a fresh device ID.
func Register(st *store.Store, input RegisterInput, result *attestation.Result) (*store.Device, error) {
	now := time.Now()
	device := &store.Device{
		DeviceID:         uuid.New().String(),
		Platform:         input.Platform,
		HardwareModel:    input.HardwareModel,
		LiDARCapable:     input.LiDARCapable,
		PublicKey:        result.PublicKeySEC1,
		AttestationLevel: result.AttestationLevel,
		AttestationKeyID: result.VendorKeyID,
		CertChain:        result.CertChain,
		AssertionCounter: 0,
		FirstSeenAt:      now,
		LastSeenAt:       now,
		CreatedVia:       "attestation",
	}

	if err := st.InsertDevice(device); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return device, nil
}

// Reattest elevates an existing device's attestation level if the new
// result ranks higher than what's on record, per store.AttestationLevel's
// never-downgrade invariant. It does not create a new device or device ID
// — re-attestation binds to the device identity the client already holds.
func Reattest(st *store.Store, deviceID string, result *attestation.Result) (*store.Device, error) {
	device, err := st.GetDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("reattest: %w", err)
	}
	if device == nil {
		return nil, apierr.New(apierr.DeviceNotFound, "device %s not found", deviceID)
	}

	if err := st.ElevateAttestationLevel(deviceID, result.AttestationLevel); err != nil {
		return nil, fmt.Errorf("elevate attestation level: %w", err)
	}
	return st.GetDevice(deviceID)
}
