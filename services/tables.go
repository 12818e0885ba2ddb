package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"property-feed-sync/models"
)

//go:embed tables.yaml
var defaultTables []byte

// Tables is the reviewable mapping data the Mapper is driven by: field
// aliases, the vendor status table, amenity and heating rules and the offer
// type classification. It is versioned alongside the code in tables.yaml.
type Tables struct {
	Version      int                 `yaml:"version"`
	RootElement  string              `yaml:"root_element"`
	AdElement    string              `yaml:"ad_element"`
	Placeholders Placeholders        `yaml:"placeholders"`
	Fields       map[string][]string `yaml:"fields"`
	Status       StatusTable         `yaml:"status"`
	PhotoSources [][]string          `yaml:"photo_sources"`
	Prestations  PrestationRules     `yaml:"prestations"`
	OfferType    OfferTypeRules      `yaml:"offer_type"`
}

type Placeholders struct {
	Title    string `yaml:"title"`
	Image    string `yaml:"image"`
	Location string `yaml:"location"`
}

// StatusTable maps vendor status codes to canonical statuses.
type StatusTable struct {
	Default string            `yaml:"default"`
	Codes   map[string]string `yaml:"codes"`
}

type PrestationRules struct {
	Truthy  []string     `yaml:"truthy"`
	Counts  []Amenity    `yaml:"counts"`
	Flags   []Amenity    `yaml:"flags"`
	Heating HeatingRules `yaml:"heating"`
}

// Amenity names a prestation key and the ordered source fields it is read from.
type Amenity struct {
	Key     string   `yaml:"key"`
	Sources []string `yaml:"sources"`
}

type HeatingRules struct {
	Key   string        `yaml:"key"`
	Rules []HeatingRule `yaml:"rules"`
}

// HeatingRule fires when Field contains the Contains keyword; rules are
// tried in order and the first match wins.
type HeatingRule struct {
	Field    string `yaml:"field"`
	Contains string `yaml:"contains"`
	Value    string `yaml:"value"`
}

type OfferTypeRules struct {
	CodeFields []string `yaml:"code_fields"`
	TextFields []string `yaml:"text_fields"`
	SaleTokens []string `yaml:"sale_tokens"`
	SaleCode   string   `yaml:"sale_code"`
	OtherCode  string   `yaml:"other_code"`
	Default    string   `yaml:"default"`
}

// requiredFields must each carry at least one alias.
var requiredFields = []string{
	"external_id", "title", "price", "city", "postal_code", "status",
	"beds", "baths", "area", "description",
}

// DefaultTables returns the tables embedded in the binary.
func DefaultTables() *Tables {
	t, err := ParseTables(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("services: embedded tables invalid: %v", err))
	}
	return t
}

// LoadTables reads tables from path, or returns the embedded defaults when
// path is empty.
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		return ParseTables(defaultTables)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tables: read %q: %w", path, err)
	}
	return ParseTables(data)
}

// ParseTables decodes and validates a YAML tables document.
func ParseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("tables: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the tables are complete enough to map a feed.
func (t *Tables) Validate() error {
	var errs []error
	if t.AdElement == "" {
		errs = append(errs, errors.New("ad_element is empty"))
	}
	for _, f := range requiredFields {
		if len(t.Fields[f]) == 0 {
			errs = append(errs, fmt.Errorf("fields.%s has no aliases", f))
		}
	}
	if !validStatus(t.Status.Default) {
		errs = append(errs, fmt.Errorf("status.default %q is not a known status", t.Status.Default))
	}
	for code, s := range t.Status.Codes {
		if !validStatus(s) {
			errs = append(errs, fmt.Errorf("status.codes[%s] %q is not a known status", code, s))
		}
	}
	if t.OfferType.SaleCode == "" {
		errs = append(errs, errors.New("offer_type.sale_code is empty"))
	}
	for i, r := range t.Prestations.Heating.Rules {
		if r.Field == "" || r.Contains == "" || r.Value == "" {
			errs = append(errs, fmt.Errorf("prestations.heating.rules[%d] is incomplete", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tables: invalid: %w", errors.Join(errs...))
	}
	return nil
}

func validStatus(s string) bool {
	switch s {
	case models.StatusForSale, models.StatusUnderOffer, models.StatusSold:
		return true
	}
	return false
}
