package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/polyedge/updown/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PROBABILITY SURFACE - Frozen empirical win-rate lookup
// ═══════════════════════════════════════════════════════════════════════════════
//
// The surface is fitted offline from historical intervals and loaded once
// at startup. Each bucket stratifies win rate by deviation from the
// interval open, time remaining, volatility regime, and trading session,
// with Wilson-score confidence bounds. At runtime the surface is read-only
// and needs no locking.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reliableSamples = 30
	usableSamples   = 10
)

// Bucket is one cell of the surface
type Bucket struct {
	DevMin        float64 `json:"dev_min"`
	DevMax        float64 `json:"dev_max"`
	TimeRemaining float64 `json:"time_remaining"`
	VolRegime     string  `json:"vol_regime"`
	Session       string  `json:"session"`
	SampleSize    int     `json:"n"`
	Wins          int     `json:"wins"`
	WinRate       float64 `json:"win_rate"`
	CILower       float64 `json:"ci_lower"`
	CIUpper       float64 `json:"ci_upper"`
	Reliable      bool    `json:"reliable"`
	Usable        bool    `json:"usable"`
}

// LookupResult is what a surface query returns after fallbacks
type LookupResult struct {
	WinRate    float64
	CILower    float64
	CIUpper    float64
	Reliable   bool
	SampleSize int
	FromPrior  bool // true when the uniform prior was served
}

// UniformPrior is the result served when no usable bucket exists
func UniformPrior() LookupResult {
	return LookupResult{WinRate: 0.5, CILower: 0.0, CIUpper: 1.0}
}

// surfaceFile mirrors the on-disk representation
type surfaceFile struct {
	Config struct {
		DeviationStep   float64    `json:"deviation_step"`
		DeviationRange  [2]float64 `json:"deviation_range"`
		ConfidenceLevel float64    `json:"confidence_level"`
	} `json:"config"`
	DeviationBins []float64          `json:"deviation_bins"`
	TimeBins      []float64          `json:"time_bins"`
	VolRegimes    []string           `json:"vol_regimes"`
	Sessions      []string           `json:"sessions"`
	Buckets       map[string]*Bucket `json:"buckets"`
}

// bucketKey indexes buckets by bin rather than float key text, so lookups
// never depend on how the builder formatted numbers.
type bucketKey struct {
	bin     int // -1 and numBins are the sentinel bins
	time    float64
	vol     string
	session string
}

// Surface is the loaded, immutable probability surface
type Surface struct {
	step            float64
	rangeLow        float64
	rangeHigh       float64
	confidenceLevel float64
	numBins         int
	timeBins        []float64
	buckets         map[bucketKey]*Bucket
	raw             map[string]*Bucket
}

// LoadSurface reads and indexes a surface file. Any failure here is fatal
// to the caller; the engine refuses to run without a surface.
func LoadSurface(path string) (*Surface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read surface: %w", err)
	}

	var file surfaceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse surface: %w", err)
	}
	if file.Config.DeviationStep <= 0 {
		return nil, fmt.Errorf("surface config: non-positive deviation_step")
	}
	if file.Config.DeviationRange[1] <= file.Config.DeviationRange[0] {
		return nil, fmt.Errorf("surface config: empty deviation_range")
	}
	if len(file.Buckets) == 0 {
		return nil, fmt.Errorf("surface has no buckets")
	}

	s := &Surface{
		step:            file.Config.DeviationStep,
		rangeLow:        file.Config.DeviationRange[0],
		rangeHigh:       file.Config.DeviationRange[1],
		confidenceLevel: file.Config.ConfidenceLevel,
		buckets:         make(map[bucketKey]*Bucket, len(file.Buckets)),
		raw:             make(map[string]*Bucket, len(file.Buckets)),
	}
	s.numBins = int(math.Round((s.rangeHigh - s.rangeLow) / s.step))

	timeSet := make(map[float64]bool)
	for key, bucket := range file.Buckets {
		parsed, err := s.parseKey(key)
		if err != nil {
			return nil, fmt.Errorf("surface bucket %q: %w", key, err)
		}
		// reliability flags derive from sample size, whatever the file says
		bucket.Reliable = bucket.SampleSize >= reliableSamples
		bucket.Usable = bucket.SampleSize >= usableSamples
		fillBounds(bucket, parsed, s)

		s.buckets[parsed] = bucket
		s.raw[canonicalKey(parsed, s)] = bucket
		timeSet[parsed.time] = true
	}

	s.timeBins = make([]float64, 0, len(timeSet))
	for t := range timeSet {
		s.timeBins = append(s.timeBins, t)
	}
	sort.Float64s(s.timeBins)

	log.Info().
		Str("path", path).
		Int("buckets", len(s.buckets)).
		Int("time_bins", len(s.timeBins)).
		Msg("📊 Probability surface loaded")
	return s, nil
}

// parseKey decodes "{dev_min}|{dev_max}|{time}|{vol}|{session}". A legacy
// four-field key (no session) loads with session "all".
func (s *Surface) parseKey(key string) (bucketKey, error) {
	parts := strings.Split(key, "|")

	var session string
	switch len(parts) {
	case 5:
		session = parts[4]
	case 4:
		session = types.SessionAll
	default:
		return bucketKey{}, fmt.Errorf("expected 4 or 5 fields, got %d", len(parts))
	}

	devMin, err := parseBound(parts[0])
	if err != nil {
		return bucketKey{}, fmt.Errorf("dev_min: %w", err)
	}
	devMax, err := parseBound(parts[1])
	if err != nil {
		return bucketKey{}, fmt.Errorf("dev_max: %w", err)
	}
	timeRem, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return bucketKey{}, fmt.Errorf("time_remaining: %w", err)
	}

	return bucketKey{
		bin:     s.binFor(devMin, devMax),
		time:    timeRem,
		vol:     parts[3],
		session: session,
	}, nil
}

func parseBound(s string) (float64, error) {
	switch s {
	case "-inf":
		return math.Inf(-1), nil
	case "inf", "+inf":
		return math.Inf(1), nil
	}
	return strconv.ParseFloat(s, 64)
}

// binFor maps bucket bounds to a bin index, with -1 and numBins for the
// two open-ended sentinel buckets.
func (s *Surface) binFor(devMin, devMax float64) int {
	if math.IsInf(devMin, -1) {
		return -1
	}
	if math.IsInf(devMax, 1) {
		return s.numBins
	}
	return int(math.Round((devMin - s.rangeLow) / s.step))
}

// fillBounds stamps the structured bucket fields from the parsed key
func fillBounds(b *Bucket, key bucketKey, s *Surface) {
	switch key.bin {
	case -1:
		b.DevMin, b.DevMax = math.Inf(-1), s.rangeLow
	case s.numBins:
		b.DevMin, b.DevMax = s.rangeHigh, math.Inf(1)
	default:
		b.DevMin = s.rangeLow + float64(key.bin)*s.step
		b.DevMax = b.DevMin + s.step
	}
	b.TimeRemaining = key.time
	b.VolRegime = key.vol
	b.Session = key.session
}

// canonicalKey renders a bucket key in the on-disk format
func canonicalKey(key bucketKey, s *Surface) string {
	var devMin, devMax string
	switch key.bin {
	case -1:
		devMin, devMax = "-inf", formatBound(s.rangeLow)
	case s.numBins:
		devMin, devMax = formatBound(s.rangeHigh), "inf"
	default:
		low := s.rangeLow + float64(key.bin)*s.step
		devMin, devMax = formatBound(low), formatBound(low+s.step)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		devMin, devMax, formatBound(key.time), key.vol, key.session)
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Buckets returns the bucket set keyed canonically, for re-serialization
func (s *Surface) Buckets() map[string]*Bucket {
	return s.raw
}

// TimeBins returns the observed time_remaining values, ascending
func (s *Surface) TimeBins() []float64 {
	return s.timeBins
}

// snapTime picks the nearest observed time_remaining value
func (s *Surface) snapTime(timeRemaining float64) float64 {
	best := s.timeBins[0]
	bestDist := math.Abs(timeRemaining - best)
	for _, t := range s.timeBins[1:] {
		if d := math.Abs(timeRemaining - t); d < bestDist {
			best, bestDist = t, d
		}
	}
	return best
}

// deviationBin clamps out-of-range deviations to the sentinel buckets
func (s *Surface) deviationBin(deviation float64) int {
	if deviation < s.rangeLow {
		return -1
	}
	if deviation >= s.rangeHigh {
		return s.numBins
	}
	return int(math.Floor((deviation - s.rangeLow) / s.step))
}

// Lookup resolves a query through the fallback chain: the requested
// (vol, session) cell, then the all-session cell, then the all-vol cell,
// then the uniform prior. Buckets below the usable sample floor are
// treated as missing.
func (s *Surface) Lookup(deviation, timeRemaining float64, volRegime, session string) LookupResult {
	if volRegime == "" {
		volRegime = types.VolAll
	}
	if session == "" {
		session = types.SessionAll
	}

	bin := s.deviationBin(deviation)
	snapped := s.snapTime(timeRemaining)

	attempts := []bucketKey{
		{bin: bin, time: snapped, vol: volRegime, session: session},
		{bin: bin, time: snapped, vol: volRegime, session: types.SessionAll},
		{bin: bin, time: snapped, vol: types.VolAll, session: types.SessionAll},
	}
	for _, key := range attempts {
		if bucket, ok := s.buckets[key]; ok && bucket.Usable {
			return LookupResult{
				WinRate:    bucket.WinRate,
				CILower:    bucket.CILower,
				CIUpper:    bucket.CIUpper,
				Reliable:   bucket.Reliable,
				SampleSize: bucket.SampleSize,
			}
		}
	}

	prior := UniformPrior()
	prior.FromPrior = true
	return prior
}
