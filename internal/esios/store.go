package esios

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/azogue/pvpcbill/internal/tariff"
)

var storeHeader = []string{"timestamp", "GEN", "NOC", "VHC", "TEUGEN", "TEUNOC", "TEUVHC"}

// Store is a local CSV cache of downloaded prices. Safe for concurrent use within
// one process.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the CSV file at path. The file is created on
// the first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path is the location of the backing file.
func (s *Store) Path() string { return s.path }

// Load reads every stored price. A missing file is an empty store.
func (s *Store) Load() ([]HourlyPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Upsert merges prices into the stored ones and saves the result.
func (s *Store) Upsert(prices []HourlyPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load()
	if err != nil {
		return err
	}
	return s.save(Merge(stored, prices))
}

// Save replaces the store content.
func (s *Store) Save(prices []HourlyPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(prices)
}

func (s *Store) load() ([]HourlyPrice, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open price store: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(storeHeader)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read price store header: %w", err)
	}

	var prices []HourlyPrice
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read price store: %w", err)
		}
		p, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("price store %s: %w", s.path, err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

func (s *Store) save(prices []HourlyPrice) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create price store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create price store: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	_ = w.Write(storeHeader)
	for _, p := range prices {
		_ = w.Write(encodeRow(p))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write price store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write price store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace price store: %w", err)
	}
	return nil
}

// Merge combines two price lists. On a repeated instant the fresh price wins; the
// result is sorted and free of duplicates.
func Merge(stored, fresh []HourlyPrice) []HourlyPrice {
	byUnix := make(map[int64]HourlyPrice, len(stored)+len(fresh))
	for _, p := range stored {
		byUnix[p.Time.Unix()] = p
	}
	for _, p := range fresh {
		byUnix[p.Time.Unix()] = p
	}
	out := make([]HourlyPrice, 0, len(byUnix))
	for _, p := range byUnix {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func encodeRow(p HourlyPrice) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		p.Time.In(tariff.Location).Format(time.RFC3339),
		f(p.GEN), f(p.NOC), f(p.VHC), f(p.TEUGEN), f(p.TEUNOC), f(p.TEUVHC),
	}
}

func decodeRow(row []string) (HourlyPrice, error) {
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return HourlyPrice{}, fmt.Errorf("bad timestamp %q", row[0])
	}
	var values [6]float64
	for i := range values {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return HourlyPrice{}, fmt.Errorf("bad %s value %q at %s", storeHeader[i+1], row[i+1], row[0])
		}
		values[i] = v
	}
	return HourlyPrice{
		Time:   ts.In(tariff.Location),
		GEN:    values[0],
		NOC:    values[1],
		VHC:    values[2],
		TEUGEN: values[3],
		TEUNOC: values[4],
		TEUVHC: values[5],
	}, nil
}
