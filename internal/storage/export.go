package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	Flight  FlightMetadata `json:"flight"`
	Columns []string       `json:"columns"`
	Rows    [][]float64    `json:"rows"`
}

// ExportJSON writes a flight and its telemetry as one JSON document.
func (s *Store) ExportJSON(w io.Writer, id string) error {
	meta, err := s.Load(id)
	if err != nil {
		return err
	}
	samples, err := s.LoadSamples(id)
	if err != nil {
		return err
	}

	data := ExportData{
		Flight:  *meta,
		Columns: telemetryHeader,
		Rows:    make([][]float64, len(samples)),
	}
	for i, smp := range samples {
		data.Rows[i] = smp.values()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
