package depth

import (
	"encoding/binary"
	"math"
)

// blobMagic identifies a video depth blob; it is the first four bytes of
// the payload inside the gzip wrapper. Chosen arbitrarily; producers and this verifier must agree on
// it out of band.
var blobMagic = [4]byte{'R', 'C', 'D', 'V'}

const (
	headerLen     = 4 + 1 + 1 + 4 + 4 + 4 // magic, version, fps, frame_count, keyframe_count, keyframe_stride
	indexEntryLen = 4 + 4 + 2 + 2         // frame_index, offset, width, height

	// defaultJumpCapMetersPerSecond bounds the plausible mean-depth delta
	// between two keyframes sampled one second apart.
	defaultJumpCapMetersPerSecond = 2.0
	// defaultSpliceThreshold bounds the histogram chi-square distance
	// between adjacent sampled keyframes.
	defaultSpliceThreshold = 0.6

	temporalConsistencyMinDepthConsistency = 0.5
	temporalConsistencyMinSceneStability   = 0.7
)

type videoHeader struct {
	Version        uint8
	FPS            uint8
	FrameCount     uint32
	KeyframeCount  uint32
	KeyframeStride uint32
}

type indexEntry struct {
	FrameIndex uint32
	Offset     uint32
	Width      uint16
	Height     uint16
}

type keyframe struct {
	index   uint32
	samples []float64
	min     float64
	max     float64
}

// AnalyzeVideo implements spec.md §4.4's video temporal path: decompress
// the concatenated header+index+payload blob, sample one keyframe per
// second of wall video, and score temporal consistency across adjacent
// sampled pairs.
func AnalyzeVideo(gzipped []byte) *VideoResult {
	raw, err := decompressGzip(gzipped)
	if err != nil {
		return &VideoResult{Status: StatusUnavailable, FailureReason: err.Error()}
	}

	header, entries, err := parseVideoBlob(raw)
	if err != nil {
		return &VideoResult{Status: StatusUnavailable, FailureReason: err.Error()}
	}
	if header.FPS == 0 || header.KeyframeStride == 0 {
		return &VideoResult{Status: StatusUnavailable, FailureReason: "invalid fps or keyframe stride"}
	}

	keyframes, err := loadKeyframes(raw, entries)
	if err != nil {
		return &VideoResult{Status: StatusUnavailable, FailureReason: err.Error()}
	}

	sampled := sampleOnePerSecond(keyframes, header.FPS, header.KeyframeStride)
	if len(sampled) < 2 {
		return &VideoResult{Status: StatusUnavailable, FailureReason: "insufficient sampled keyframes"}
	}

	var histDistances []float64
	var meanDeltas []float64
	var suspicious []uint32

	for i := 1; i < len(sampled); i++ {
		prev, cur := sampled[i-1], sampled[i]

		dist := histogramChiSquareDistance(prev.samples, cur.samples, histogramBins, prev.min, prev.max, cur.min, cur.max)
		histDistances = append(histDistances, dist)

		prevMean, _ := meanAndStdDev(prev.samples)
		curMean, _ := meanAndStdDev(cur.samples)
		delta := math.Abs(curMean - prevMean)
		meanDeltas = append(meanDeltas, delta)

		if delta > defaultJumpCapMetersPerSecond || dist > defaultSpliceThreshold {
			suspicious = append(suspicious, cur.index)
		}
	}

	depthConsistency := clamp01(1 - meanFloat64(histDistances)/2)
	motionCoherence := clamp01(1 / (1 + varianceFloat64(meanDeltas)))

	withinCap := 0
	for _, d := range meanDeltas {
		if d <= defaultJumpCapMetersPerSecond {
			withinCap++
		}
	}
	sceneStability := float64(withinCap) / float64(len(meanDeltas))

	isConsistent := depthConsistency >= temporalConsistencyMinDepthConsistency &&
		sceneStability >= temporalConsistencyMinSceneStability &&
		len(suspicious) == 0

	return &VideoResult{
		Status:                 StatusPass,
		DepthConsistency:       depthConsistency,
		MotionCoherence:        motionCoherence,
		SceneStability:         sceneStability,
		SuspiciousFrames:       suspicious,
		IsTemporallyConsistent: isConsistent,
	}
}

func parseVideoBlob(raw []byte) (videoHeader, []indexEntry, error) {
	if len(raw) < headerLen {
		return videoHeader{}, nil, ErrMalformedHeader
	}
	if raw[0] != blobMagic[0] || raw[1] != blobMagic[1] || raw[2] != blobMagic[2] || raw[3] != blobMagic[3] {
		return videoHeader{}, nil, ErrMalformedHeader
	}

	h := videoHeader{
		Version:        raw[4],
		FPS:            raw[5],
		FrameCount:     binary.LittleEndian.Uint32(raw[6:10]),
		KeyframeCount:  binary.LittleEndian.Uint32(raw[10:14]),
		KeyframeStride: binary.LittleEndian.Uint32(raw[14:18]),
	}

	indexStart := headerLen
	indexLen := int(h.KeyframeCount) * indexEntryLen
	if len(raw) < indexStart+indexLen {
		return videoHeader{}, nil, ErrMalformedHeader
	}

	entries := make([]indexEntry, 0, h.KeyframeCount)
	for i := 0; i < int(h.KeyframeCount); i++ {
		off := indexStart + i*indexEntryLen
		entries = append(entries, indexEntry{
			FrameIndex: binary.LittleEndian.Uint32(raw[off : off+4]),
			Offset:     binary.LittleEndian.Uint32(raw[off+4 : off+8]),
			Width:      binary.LittleEndian.Uint16(raw[off+8 : off+10]),
			Height:     binary.LittleEndian.Uint16(raw[off+10 : off+12]),
		})
	}
	return h, entries, nil
}

func loadKeyframes(raw []byte, entries []indexEntry) ([]keyframe, error) {
	out := make([]keyframe, 0, len(entries))
	for _, e := range entries {
		count := int(e.Width) * int(e.Height)
		start := int(e.Offset)
		end := start + count*4
		if start < 0 || end > len(raw) {
			return nil, ErrMalformedHeader
		}
		floats, err := parseFloat32LE(raw[start:end], count)
		if err != nil {
			return nil, err
		}
		valid := validSamples(floats)
		if len(valid) == 0 {
			continue
		}
		min, max := valid[0], valid[0]
		for _, v := range valid {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		out = append(out, keyframe{index: e.FrameIndex, samples: valid, min: min, max: max})
	}
	return out, nil
}

// sampleOnePerSecond selects every fps-th keyframe by index, matching one
// sample per second of wall video.
func sampleOnePerSecond(keyframes []keyframe, fps uint8, stride uint32) []keyframe {
	perSecondStride := uint32(fps) * stride
	if perSecondStride == 0 {
		return keyframes
	}
	var out []keyframe
	for _, kf := range keyframes {
		if kf.index%perSecondStride == 0 {
			out = append(out, kf)
		}
	}
	return out
}

func histogramChiSquareDistance(a, b []float64, bins int, aMin, aMax, bMin, bMax float64) float64 {
	min := aMin
	if bMin < min {
		min = bMin
	}
	max := aMax
	if bMax > max {
		max = bMax
	}
	if max <= min {
		return 0
	}

	histA := bucketize(a, bins, min, max)
	histB := bucketize(b, bins, min, max)

	var distance float64
	for i := 0; i < bins; i++ {
		pa := float64(histA[i]) / float64(len(a))
		pb := float64(histB[i]) / float64(len(b))
		if pa+pb == 0 {
			continue
		}
		diff := pa - pb
		distance += (diff * diff) / (pa + pb)
	}
	return distance
}

func bucketize(values []float64, bins int, min, max float64) []int {
	out := make([]int, bins)
	span := max - min
	for _, v := range values {
		idx := int((v - min) / span * float64(bins))
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		out[idx]++
	}
	return out
}

func meanFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func varianceFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := meanFloat64(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
