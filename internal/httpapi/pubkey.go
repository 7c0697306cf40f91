package httpapi

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"

	"github.com/LucaDeLeo/realitycam/internal/store"
)

// devicePublicKey reconstructs a P-256 public key from a device's stored
// SEC1 (uncompressed-point) encoding, the form attestation.Result's
// PublicKeySEC1 is written in.
func devicePublicKey(device *store.Device) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), device.PublicKey)
	if x == nil {
		return nil, fmt.Errorf("invalid SEC1 public key for device %s", device.DeviceID)
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
