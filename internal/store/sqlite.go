package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the realitycam device/capture store.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
    device_id           TEXT PRIMARY KEY,
    platform            TEXT NOT NULL,
    hardware_model      TEXT,
    lidar_capable       INTEGER NOT NULL DEFAULT 0,
    public_key          BLOB NOT NULL,
    attestation_level   TEXT NOT NULL,
    attestation_key_id  TEXT NOT NULL,
    cert_chain          BLOB,
    assertion_counter   INTEGER NOT NULL DEFAULT 0,
    first_seen_at       INTEGER NOT NULL,
    last_seen_at        INTEGER NOT NULL,
    created_via         TEXT
);

CREATE TABLE IF NOT EXISTS captures (
    id                  TEXT PRIMARY KEY,
    device_id           TEXT NOT NULL REFERENCES devices(device_id),
    capture_type        TEXT NOT NULL,
    capture_mode        TEXT NOT NULL,
    media_sha256        BLOB NOT NULL,
    media_stored        INTEGER NOT NULL DEFAULT 0,
    media_key           TEXT,
    depth_key           TEXT,
    video_key           TEXT,
    video_depth_key     TEXT,
    hash_chain_key      TEXT,
    evidence            TEXT NOT NULL,
    confidence          TEXT NOT NULL,
    status              TEXT NOT NULL,
    location_precise    TEXT,
    location_coarse     TEXT,
    captured_at         INTEGER NOT NULL,
    uploaded_at         INTEGER NOT NULL,
    duration_ms         INTEGER,
    frame_count         INTEGER,
    is_partial          INTEGER NOT NULL DEFAULT 0,
    checkpoint_index    INTEGER,
    request_id          TEXT,
    schema_version      INTEGER NOT NULL DEFAULT 1,
    recomputed          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_captures_device ON captures(device_id, uploaded_at);
CREATE INDEX IF NOT EXISTS idx_captures_media_hash ON captures(media_sha256);
CREATE INDEX IF NOT EXISTS idx_captures_status ON captures(status);
`

// Store is the SQLite-backed device/capture store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and applies
// the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB, for components (e.g. health checks)
// that only need connectivity, not the typed accessors below.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertDevice inserts a newly registered device.
func (s *Store) InsertDevice(d *Device) error {
	_, err := s.db.Exec(`
		INSERT INTO devices (device_id, platform, hardware_model, lidar_capable, public_key,
			attestation_level, attestation_key_id, cert_chain, assertion_counter,
			first_seen_at, last_seen_at, created_via)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DeviceID, string(d.Platform), d.HardwareModel, boolToInt(d.LiDARCapable), d.PublicKey,
		string(d.AttestationLevel), d.AttestationKeyID, nullableBytes(d.CertChain), d.AssertionCounter,
		d.FirstSeenAt.UnixNano(), d.LastSeenAt.UnixNano(), d.CreatedVia,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by its ID.
func (s *Store) GetDevice(deviceID string) (*Device, error) {
	var d Device
	var platform, attestationLevel string
	var certChain []byte
	var firstSeen, lastSeen int64
	var lidar int

	err := s.db.QueryRow(`
		SELECT device_id, platform, hardware_model, lidar_capable, public_key,
			attestation_level, attestation_key_id, cert_chain, assertion_counter,
			first_seen_at, last_seen_at, created_via
		FROM devices WHERE device_id = ?`, deviceID,
	).Scan(&d.DeviceID, &platform, &d.HardwareModel, &lidar, &d.PublicKey,
		&attestationLevel, &d.AttestationKeyID, &certChain, &d.AssertionCounter,
		&firstSeen, &lastSeen, &d.CreatedVia)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}

	d.Platform = Platform(platform)
	d.AttestationLevel = AttestationLevel(attestationLevel)
	d.CertChain = certChain
	d.LiDARCapable = lidar != 0
	d.FirstSeenAt = time.Unix(0, firstSeen)
	d.LastSeenAt = time.Unix(0, lastSeen)

	return &d, nil
}

// CompareAndSwapCounter atomically advances a device's assertion counter.
// It only succeeds (rows affected == 1) when the stored counter is still
// strictly less than newCounter, implementing the replay check required by
// spec.md §4.3/§5.
func (s *Store) CompareAndSwapCounter(deviceID string, newCounter uint32) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE devices SET assertion_counter = ?, last_seen_at = ?
		WHERE device_id = ? AND assertion_counter < ?`,
		newCounter, time.Now().UnixNano(), deviceID, newCounter,
	)
	if err != nil {
		return false, fmt.Errorf("compare-and-swap counter: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// ElevateAttestationLevel raises a device's attestation level, never
// lowering it, per spec.md §3's invariant.
func (s *Store) ElevateAttestationLevel(deviceID string, level AttestationLevel) error {
	existing, err := s.GetDevice(deviceID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	if level.Rank() <= existing.AttestationLevel.Rank() {
		return nil
	}

	_, err = s.db.Exec(`UPDATE devices SET attestation_level = ? WHERE device_id = ?`,
		string(level), deviceID)
	if err != nil {
		return fmt.Errorf("elevate attestation level: %w", err)
	}
	return nil
}

// InsertCapture inserts a newly-assembled capture record.
func (s *Store) InsertCapture(c *Capture) error {
	precise, err := encodeLocation(c.LocationPrecise)
	if err != nil {
		return fmt.Errorf("encode precise location: %w", err)
	}
	coarse, err := encodeLocation(c.LocationCoarse)
	if err != nil {
		return fmt.Errorf("encode coarse location: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO captures (id, device_id, capture_type, capture_mode, media_sha256,
			media_stored, media_key, depth_key, video_key, video_depth_key, hash_chain_key,
			evidence, confidence, status, location_precise, location_coarse,
			captured_at, uploaded_at, duration_ms, frame_count, is_partial, checkpoint_index,
			request_id, schema_version, recomputed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DeviceID, string(c.CaptureType), string(c.CaptureMode), c.MediaSHA256[:],
		boolToInt(c.MediaStored), nullableString(c.MediaKey), nullableString(c.DepthKey),
		nullableString(c.VideoKey), nullableString(c.VideoDepthKey), nullableString(c.HashChainKey),
		string(c.Evidence), string(c.Confidence), string(c.Status), precise, coarse,
		c.CapturedAt.UnixNano(), c.UploadedAt.UnixNano(),
		nullableInt64(c.DurationMs), nullableInt64(c.FrameCount), boolToInt(c.IsPartial), nullableInt64(c.CheckpointIndex),
		c.RequestID, c.SchemaVersion, boolToInt(c.Recomputed),
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// GetCapture retrieves a capture by ID.
func (s *Store) GetCapture(id string) (*Capture, error) {
	row := s.db.QueryRow(`
		SELECT id, device_id, capture_type, capture_mode, media_sha256, media_stored,
			media_key, depth_key, video_key, video_depth_key, hash_chain_key,
			evidence, confidence, status, location_precise, location_coarse,
			captured_at, uploaded_at, duration_ms, frame_count, is_partial, checkpoint_index,
			request_id, schema_version, recomputed
		FROM captures WHERE id = ?`, id)

	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get capture: %w", err)
	}
	return c, nil
}

// ApplyLateEvidence appends late-arriving evidence to a capture and
// recomputes its confidence level at most once, per spec.md §3's lifecycle
// note and SPEC_FULL.md §9's bound on recomputation.
func (s *Store) ApplyLateEvidence(id string, evidence []byte, confidence ConfidenceLevel) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE captures SET evidence = ?, confidence = ?, status = ?, recomputed = 1
		WHERE id = ? AND recomputed = 0`,
		string(evidence), string(confidence), string(ProcessingComplete), id,
	)
	if err != nil {
		return false, fmt.Errorf("apply late evidence: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// FindCaptureByMediaHash looks up a capture by its media SHA-256, used by
// the verify-file passthrough (SPEC_FULL.md §9).
func (s *Store) FindCaptureByMediaHash(sha256 [32]byte) (*Capture, error) {
	row := s.db.QueryRow(`
		SELECT id, device_id, capture_type, capture_mode, media_sha256, media_stored,
			media_key, depth_key, video_key, video_depth_key, hash_chain_key,
			evidence, confidence, status, location_precise, location_coarse,
			captured_at, uploaded_at, duration_ms, frame_count, is_partial, checkpoint_index,
			request_id, schema_version, recomputed
		FROM captures WHERE media_sha256 = ?
		ORDER BY uploaded_at DESC LIMIT 1`, sha256[:])

	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find capture by media hash: %w", err)
	}
	return c, nil
}

// ListCapturesByDevice lists a device's captures uploaded within the given
// window, most recent first. The video-upload-per-hour limit does not read
// it; that limit is an in-memory limiter in internal/httpapi.
func (s *Store) ListCapturesByDevice(deviceID string, since time.Time) ([]Capture, error) {
	rows, err := s.db.Query(`
		SELECT id, device_id, capture_type, capture_mode, media_sha256, media_stored,
			media_key, depth_key, video_key, video_depth_key, hash_chain_key,
			evidence, confidence, status, location_precise, location_coarse,
			captured_at, uploaded_at, duration_ms, frame_count, is_partial, checkpoint_index,
			request_id, schema_version, recomputed
		FROM captures WHERE device_id = ? AND uploaded_at >= ?
		ORDER BY uploaded_at DESC`, deviceID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list captures by device: %w", err)
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return out, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows for scanCapture.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(row rowScanner) (*Capture, error) {
	var c Capture
	var captureType, captureMode, confidence, status string
	var mediaSHA256 []byte
	var mediaStored, isPartial, recomputed int
	var mediaKey, depthKey, videoKey, videoDepthKey, hashChainKey sql.NullString
	var precise, coarse sql.NullString
	var capturedAt, uploadedAt int64
	var durationMs, frameCount, checkpointIndex sql.NullInt64
	var requestID sql.NullString

	err := row.Scan(&c.ID, &c.DeviceID, &captureType, &captureMode, &mediaSHA256, &mediaStored,
		&mediaKey, &depthKey, &videoKey, &videoDepthKey, &hashChainKey,
		&c.Evidence, &confidence, &status, &precise, &coarse,
		&capturedAt, &uploadedAt, &durationMs, &frameCount, &isPartial, &checkpointIndex,
		&requestID, &c.SchemaVersion, &recomputed)
	if err != nil {
		return nil, err
	}

	c.CaptureType = CaptureType(captureType)
	c.CaptureMode = CaptureMode(captureMode)
	c.Confidence = ConfidenceLevel(confidence)
	c.Status = ProcessingStatus(status)
	copy(c.MediaSHA256[:], mediaSHA256)
	c.MediaStored = mediaStored != 0
	c.IsPartial = isPartial != 0
	c.Recomputed = recomputed != 0
	c.MediaKey = mediaKey.String
	c.DepthKey = depthKey.String
	c.VideoKey = videoKey.String
	c.VideoDepthKey = videoDepthKey.String
	c.HashChainKey = hashChainKey.String
	c.CapturedAt = time.Unix(0, capturedAt)
	c.UploadedAt = time.Unix(0, uploadedAt)
	c.DurationMs = durationMs.Int64
	c.FrameCount = frameCount.Int64
	c.CheckpointIndex = checkpointIndex.Int64
	c.RequestID = requestID.String

	if precise.Valid {
		loc, err := decodeLocation(precise.String)
		if err != nil {
			return nil, fmt.Errorf("decode precise location: %w", err)
		}
		c.LocationPrecise = loc
	}
	if coarse.Valid {
		loc, err := decodeLocation(coarse.String)
		if err != nil {
			return nil, fmt.Errorf("decode coarse location: %w", err)
		}
		c.LocationCoarse = loc
	}

	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

func encodeLocation(loc *Location) (interface{}, error) {
	if loc == nil {
		return nil, nil
	}
	b, err := json.Marshal(loc)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeLocation(s string) (*Location, error) {
	var loc Location
	if err := json.Unmarshal([]byte(s), &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}
