package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

const (
	metadataFile  = "metadata.json"
	telemetryFile = "telemetry.csv"
)

var ErrInvalidID = errors.New("invalid flight id")

var telemetryHeader = []string{"time", "n", "e", "d", "vn", "ve", "vd", "roll", "pitch", "yaw"}

// Sample is one recorded telemetry point. Time is seconds since the first
// sample; angles are degrees.
type Sample struct {
	Time             float64
	N, E, D          float64
	VN, VE, VD       float64
	Roll, Pitch, Yaw float64
}

func (s Sample) values() []float64 {
	return []float64{s.Time, s.N, s.E, s.D, s.VN, s.VE, s.VD, s.Roll, s.Pitch, s.Yaw}
}

func sampleFrom(v []float64) Sample {
	return Sample{
		Time:  v[0],
		N:     v[1],
		E:     v[2],
		D:     v[3],
		VN:    v[4],
		VE:    v[5],
		VD:    v[6],
		Roll:  v[7],
		Pitch: v[8],
		Yaw:   v[9],
	}
}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type FlightMetadata struct {
	ID        string             `json:"id"`
	Command   string             `json:"command"`
	Plan      string             `json:"plan,omitempty"`
	Address   string             `json:"address"`
	Simulated bool               `json:"simulated"`
	Timestamp time.Time          `json:"timestamp"`
	Duration  float64            `json:"duration"`
	Samples   int                `json:"samples"`
	Outcome   string             `json:"outcome"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Save writes a new flight directory. ID, Timestamp, Duration and Samples
// are filled in from the call.
func (s *Store) Save(meta FlightMetadata, samples []Sample) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}
	meta.Timestamp = time.Now()
	meta.Samples = len(samples)
	if len(samples) > 0 {
		meta.Duration = samples[len(samples)-1].Time
	}

	id, dir, err := s.newFlightDir(meta.Command, meta.Timestamp)
	if err != nil {
		return "", err
	}
	meta.ID = id

	if err := writeMetadata(filepath.Join(dir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeTelemetry(filepath.Join(dir, telemetryFile), samples); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) newFlightDir(command string, ts time.Time) (string, string, error) {
	base := fmt.Sprintf("%s_%d", command, ts.Unix())
	for i := 0; ; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s_%d", base, i)
		}
		dir := filepath.Join(s.baseDir, id)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
	}
}

func writeMetadata(path string, meta FlightMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func writeTelemetry(path string, samples []Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(telemetryHeader); err != nil {
		return err
	}
	row := make([]string, len(telemetryHeader))
	for _, s := range samples {
		for i, v := range s.values() {
			row[i] = strconv.FormatFloat(v, 'f', 4, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns every readable flight, oldest first.
func (s *Store) List() ([]FlightMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []FlightMetadata{}, nil
		}
		return nil, err
	}

	flights := make([]FlightMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		flights = append(flights, *meta)
	}

	sort.SliceStable(flights, func(i, j int) bool {
		return flights[i].Timestamp.Before(flights[j].Timestamp)
	})
	return flights, nil
}

// flightDir resolves id inside the store; ids naming anything but a direct
// child of the base directory are rejected.
func (s *Store) flightDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(s.baseDir, id), nil
}

func (s *Store) Load(id string) (*FlightMetadata, error) {
	dir, err := s.flightDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta FlightMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("flight %s: %w", id, err)
	}
	return &meta, nil
}

func (s *Store) LoadSamples(id string) ([]Sample, error) {
	dir, err := s.flightDir(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, telemetryFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(telemetryHeader)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("flight %s: %w", id, err)
	}
	if len(records) < 2 {
		return []Sample{}, nil
	}

	samples := make([]Sample, 0, len(records)-1)
	values := make([]float64, len(telemetryHeader))
	for line, record := range records[1:] {
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("flight %s: line %d: %w", id, line+2, err)
			}
			values[i] = v
		}
		samples = append(samples, sampleFrom(values))
	}
	return samples, nil
}
