package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice(id string) *Device {
	now := time.Now()
	return &Device{
		DeviceID:         id,
		Platform:         PlatformIOS,
		HardwareModel:    "iPhone15,3",
		LiDARCapable:     true,
		PublicKey:        []byte{0x04, 0x01, 0x02, 0x03},
		AttestationLevel: AttestationBasic,
		AttestationKeyID: "vendor-key-1",
		AssertionCounter: 0,
		FirstSeenAt:      now,
		LastSeenAt:       now,
		CreatedVia:       "req-register-1",
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "realitycam.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesSchemaAndMigrations(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, ValidateSchema(s.db))

	status, err := GetMigrationStatus(s.db)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), status.CurrentVersion)
	assert.Empty(t, status.Pending)
}

func TestInsertAndGetDevice(t *testing.T) {
	s := openTestStore(t)
	d := testDevice("device-1")

	require.NoError(t, s.InsertDevice(d))

	got, err := s.GetDevice("device-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.Platform, got.Platform)
	assert.Equal(t, d.HardwareModel, got.HardwareModel)
	assert.True(t, got.LiDARCapable)
	assert.Equal(t, d.PublicKey, got.PublicKey)
	assert.Equal(t, AttestationBasic, got.AttestationLevel)
}

func TestGetDeviceNotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetDevice("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCompareAndSwapCounterAdvances(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))

	ok, err := s.CompareAndSwapCounter("device-1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetDevice("device-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.AssertionCounter)
}

func TestCompareAndSwapCounterRejectsReplay(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))

	ok, err := s.CompareAndSwapCounter("device-1", 5)
	require.NoError(t, err)
	require.True(t, ok)

	// Equal or lesser counter must be rejected (replay).
	ok, err = s.CompareAndSwapCounter("device-1", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CompareAndSwapCounter("device-1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetDevice("device-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.AssertionCounter)
}

func TestElevateAttestationLevelNeverDowngrades(t *testing.T) {
	s := openTestStore(t)
	d := testDevice("device-1")
	d.AttestationLevel = AttestationFull
	require.NoError(t, s.InsertDevice(d))

	require.NoError(t, s.ElevateAttestationLevel("device-1", AttestationBasic))

	got, err := s.GetDevice("device-1")
	require.NoError(t, err)
	assert.Equal(t, AttestationFull, got.AttestationLevel)
}

func testCapture(id, deviceID string) *Capture {
	now := time.Now()
	return &Capture{
		ID:            id,
		DeviceID:      deviceID,
		CaptureType:   CaptureTypePhoto,
		CaptureMode:   CaptureModeFull,
		MediaSHA256:   [32]byte{0x01, 0x02, 0x03},
		MediaStored:   true,
		MediaKey:      "captures/device-1/photo.jpg",
		DepthKey:      "captures/device-1/depth.bin",
		Evidence:      []byte(`{"hardware_attestation":{"status":"pass"}}`),
		Confidence:    ConfidenceHigh,
		Status:        ProcessingComplete,
		CapturedAt:    now,
		UploadedAt:    now,
		RequestID:     "req-upload-1",
		SchemaVersion: 1,
	}
}

func TestInsertAndGetCapture(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))

	c := testCapture("capture-1", "device-1")
	c.LocationPrecise = &Location{Latitude: 37.7749, Longitude: -122.4194}
	require.NoError(t, s.InsertCapture(c))

	got, err := s.GetCapture("capture-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.DeviceID, got.DeviceID)
	assert.Equal(t, CaptureTypePhoto, got.CaptureType)
	assert.Equal(t, ConfidenceHigh, got.Confidence)
	assert.True(t, got.MediaStored)
	assert.Equal(t, "captures/device-1/photo.jpg", got.MediaKey)
	require.NotNil(t, got.LocationPrecise)
	assert.InDelta(t, 37.7749, got.LocationPrecise.Latitude, 0.0001)
	assert.Nil(t, got.LocationCoarse)
}

func TestGetCaptureNotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetCapture("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHashOnlyCaptureHasNoStorageKeys(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))

	c := testCapture("capture-2", "device-1")
	c.CaptureType = CaptureTypeHashOnly
	c.CaptureMode = CaptureModeHashOnly
	c.MediaStored = false
	c.MediaKey = ""
	c.DepthKey = ""
	require.NoError(t, s.InsertCapture(c))

	got, err := s.GetCapture("capture-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.MediaStored)
	assert.Empty(t, got.MediaKey)
	assert.Empty(t, got.DepthKey)
}

func TestApplyLateEvidenceFiresOnlyOnce(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))
	require.NoError(t, s.InsertCapture(testCapture("capture-1", "device-1")))

	applied, err := s.ApplyLateEvidence("capture-1", []byte(`{"depth_analysis":{"status":"pass"}}`), ConfidenceVerified)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetCapture("capture-1")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceVerified, got.Confidence)
	assert.True(t, got.Recomputed)

	// Second attempt must be a no-op (bounds "recompute... once").
	applied, err = s.ApplyLateEvidence("capture-1", []byte(`{"depth_analysis":{"status":"fail"}}`), ConfidenceLow)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = s.GetCapture("capture-1")
	require.NoError(t, err)
	assert.Equal(t, ConfidenceVerified, got.Confidence)
}

func TestFindCaptureByMediaHash(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))

	c := testCapture("capture-1", "device-1")
	c.MediaSHA256 = [32]byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, s.InsertCapture(c))

	got, err := s.FindCaptureByMediaHash([32]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "capture-1", got.ID)

	none, err := s.FindCaptureByMediaHash([32]byte{0x99})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListCapturesByDeviceWindow(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertDevice(testDevice("device-1")))

	old := testCapture("capture-old", "device-1")
	old.UploadedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.InsertCapture(old))

	recent := testCapture("capture-recent", "device-1")
	recent.UploadedAt = time.Now()
	require.NoError(t, s.InsertCapture(recent))

	list, err := s.ListCapturesByDevice("device-1", time.Now().Add(-1*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "capture-recent", list[0].ID)
}
