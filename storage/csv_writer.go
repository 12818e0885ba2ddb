package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"property-feed-sync/models"
)

var csvHeader = []string{
	"external_id", "title", "price", "location", "status", "beds", "baths",
	"area", "image", "photos", "prestations", "dpe_consommation", "dpe_ges",
}

// CSVWriter dumps mapped properties to a CSV file so a feed can be reviewed
// without touching the database. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteProperties appends one row per property.
func (c *CSVWriter) WriteProperties(props []*models.Property) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range props {
		row := []string{
			p.ExternalID,
			p.Title,
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			p.Location,
			p.Status,
			strconv.Itoa(p.Beds),
			strconv.Itoa(p.Baths),
			strconv.Itoa(p.Area),
			p.Image,
			strings.Join(p.Photos, "|"),
			amenityList(p.Prestations),
			deref(p.DPEConsumption),
			deref(p.DPEEmissions),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// amenityList renders prestations as sorted key=value pairs.
func amenityList(p models.Prestations) string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
