package core

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/polyedge/updown/types"
)

// Spooler appends published snapshots to a daily CSV file for offline
// analysis and surface rebuilds.
type Spooler struct {
	dir string

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	day     string
	written int
}

var spoolHeader = []string{
	"timestamp_ms",
	"spot_direct", "spot_direct_ts",
	"spot_venue", "spot_venue_ts",
	"oracle_venue", "oracle_venue_ts",
	"oracle_chain", "oracle_chain_ts", "oracle_round",
	"lag_ms", "divergence",
}

// NewSpooler creates a spooler writing into dir
func NewSpooler(dir string) (*Spooler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spooler{dir: dir}, nil
}

// Record appends one snapshot row, rolling the file at day boundaries
func (s *Spooler) Record(snap types.SynchronizedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := time.UnixMilli(snap.Timestamp).UTC().Format("2006-01-02")
	if s.writer == nil || day != s.day {
		if err := s.rotate(day); err != nil {
			log.Error().Err(err).Msg("Spool rotate failed")
			return
		}
	}

	row := make([]string, 0, len(spoolHeader))
	row = append(row, strconv.FormatInt(snap.Timestamp, 10))
	row = appendPrice(row, snap.SpotDirect)
	row = appendPrice(row, snap.SpotVenue)
	row = appendPrice(row, snap.OracleVenue)
	row = appendPrice(row, snap.OracleChain)
	if snap.OracleChain != nil {
		row = append(row, strconv.FormatUint(snap.OracleChain.Sequence, 10))
	} else {
		row = append(row, "")
	}
	if lag, ok := snap.LagMs(); ok {
		row = append(row, strconv.FormatInt(lag, 10))
	} else {
		row = append(row, "")
	}
	if div, ok := snap.DivergencePct(); ok {
		row = append(row, strconv.FormatFloat(div, 'f', 6, 64))
	} else {
		row = append(row, "")
	}

	if err := s.writer.Write(row); err != nil {
		log.Error().Err(err).Msg("Spool write failed")
		return
	}
	s.written++
	s.writer.Flush()
}

func appendPrice(row []string, u *types.PriceUpdate) []string {
	if u == nil {
		return append(row, "", "")
	}
	return append(row, u.Price.String(), strconv.FormatInt(u.Timestamp, 10))
}

// rotate closes the current file and opens the file for the given day.
// Caller holds the lock.
func (s *Spooler) rotate(day string) error {
	if s.file != nil {
		s.writer.Flush()
		s.file.Close()
	}

	path := filepath.Join(s.dir, fmt.Sprintf("snapshots-%s.csv", day))
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	s.file = file
	s.writer = csv.NewWriter(file)
	s.day = day

	if fresh {
		if err := s.writer.Write(spoolHeader); err != nil {
			return err
		}
		s.writer.Flush()
	}
	log.Info().Str("path", path).Msg("Spool file opened")
	return nil
}

// Written returns how many rows have been recorded
func (s *Spooler) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close flushes and closes the spool file
func (s *Spooler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.writer.Flush()
	err := s.file.Close()
	s.file = nil
	s.writer = nil
	return err
}
