package services

import (
	"strconv"
	"strings"

	"property-feed-sync/feed"
	"property-feed-sync/models"
	"property-feed-sync/utils"
)

// Mapper turns generic ad nodes into canonical Property records. It holds
// no state besides its tables and is safe for concurrent use.
type Mapper struct {
	tables *Tables
	logger *utils.Logger
}

// NewMapper creates a Mapper driven by the given tables.
func NewMapper(tables *Tables, logger *utils.Logger) *Mapper {
	return &Mapper{tables: tables, logger: logger}
}

// Tables exposes the tables the mapper was built with.
func (m *Mapper) Tables() *Tables { return m.tables }

// MapAll maps every ad and keeps only those classified as sale offers,
// preserving feed order.
func (m *Mapper) MapAll(ads []*feed.Node) []*models.Property {
	result := make([]*models.Property, 0, len(ads))
	for _, ad := range ads {
		p := m.MapOne(ad)
		if !m.IsSale(p.OfferTypeCode) {
			m.logger.Debug("[mapper] Skipping non-sale ad %q (offer type %q)", p.ExternalID, p.OfferTypeCode)
			continue
		}
		result = append(result, p)
	}

	m.logger.Info("[mapper] Mapped %d ads → %d sale records (dropped %d)",
		len(ads), len(result), len(ads)-len(result))
	return result
}

// MapOne converts a single ad. It never fails: missing or malformed values
// fall back to their defaults, and an empty identity is left for the caller
// to decide on.
func (m *Mapper) MapOne(ad *feed.Node) *models.Property {
	t := m.tables
	photos := m.photos(ad)

	p := &models.Property{
		ExternalID:    m.field(ad, "external_id"),
		Title:         normaliseText(m.field(ad, "title")),
		Price:         toFloat(m.field(ad, "price")),
		Location:      m.location(ad),
		Status:        m.status(ad),
		Image:         t.Placeholders.Image,
		Photos:        photos,
		Beds:          toInt(m.field(ad, "beds")),
		Baths:         toInt(m.field(ad, "baths")),
		Area:          toInt(m.field(ad, "area")),
		Description:   m.field(ad, "description"),
		Prestations:   m.prestations(ad),
		OfferTypeCode: m.offerType(ad),

		SurfaceTotal:   toOptionalFloat(m.field(ad, "surface_total")),
		SurfaceTerrace: toOptionalFloat(m.field(ad, "surface_terrace")),
		SurfaceBalcony: toOptionalFloat(m.field(ad, "surface_balcony")),
		SurfaceCellar:  toOptionalFloat(m.field(ad, "surface_cellar")),
		SurfaceGarage:  toOptionalFloat(m.field(ad, "surface_garage")),
		SurfaceGarden:  toOptionalFloat(m.field(ad, "surface_garden")),

		DPEConsumption: toGrade(m.field(ad, "dpe_consumption")),
		DPEEmissions:   toGrade(m.field(ad, "dpe_emissions")),
	}

	if p.Title == "" {
		p.Title = t.Placeholders.Title
	}
	if len(photos) > 0 {
		first := photos[0]
		p.Image = first
		p.PhotoPrincipal = &first
	}
	return p
}

// IsSale reports whether an offer type code denotes a sale: the sale code
// itself, any numeric zero, or a sale token written out in full.
func (m *Mapper) IsSale(code string) bool {
	code = strings.TrimSpace(code)
	if code == m.tables.OfferType.SaleCode {
		return true
	}
	if v, err := strconv.ParseFloat(code, 64); err == nil {
		sale, serr := strconv.ParseFloat(m.tables.OfferType.SaleCode, 64)
		return serr == nil && v == sale
	}
	for _, tok := range m.tables.OfferType.SaleTokens {
		if strings.EqualFold(code, tok) {
			return true
		}
	}
	return false
}

// field returns the first non-empty alias value of a canonical field.
func (m *Mapper) field(ad *feed.Node, name string) string {
	return firstOf(ad, m.tables.Fields[name])
}

func firstOf(ad *feed.Node, paths []string) string {
	for _, p := range paths {
		if v := ad.Lookup(p); v != "" {
			return v
		}
	}
	return ""
}

func (m *Mapper) location(ad *feed.Node) string {
	city := normaliseText(m.field(ad, "city"))
	cp := normaliseText(m.field(ad, "postal_code"))
	switch {
	case city != "" && cp != "":
		return city + " " + cp
	case city != "":
		return city
	case cp != "":
		return cp
	default:
		return m.tables.Placeholders.Location
	}
}

func (m *Mapper) status(ad *feed.Node) string {
	code := m.field(ad, "status")
	if s, ok := m.tables.Status.Codes[code]; ok {
		return s
	}
	return m.tables.Status.Default
}

// photos reads the first photo source that yields any URL.
func (m *Mapper) photos(ad *feed.Node) []string {
	for _, path := range m.tables.PhotoSources {
		var urls []string
		for _, item := range ad.Array(path...) {
			if u := item.Scalar(); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			return urls
		}
	}
	return []string{}
}

func (m *Mapper) prestations(ad *feed.Node) models.Prestations {
	rules := m.tables.Prestations
	out := models.Prestations{}

	for _, a := range rules.Counts {
		if n := toInt(firstOf(ad, a.Sources)); n > 0 {
			out[a.Key] = n
		}
	}

	for _, a := range rules.Flags {
		if m.truthy(firstOf(ad, a.Sources)) {
			out[a.Key] = true
		}
	}

	if rules.Heating.Key != "" {
		for _, r := range rules.Heating.Rules {
			if strings.Contains(fold(ad.Lookup(r.Field)), fold(r.Contains)) {
				out[rules.Heating.Key] = r.Value
				break
			}
		}
	}
	return out
}

func (m *Mapper) truthy(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, tok := range m.tables.Prestations.Truthy {
		if strings.EqualFold(v, tok) {
			return true
		}
	}
	return false
}

// offerType prefers an explicit code and otherwise classifies free text by
// sale tokens.
func (m *Mapper) offerType(ad *feed.Node) string {
	rules := m.tables.OfferType
	if code := firstOf(ad, rules.CodeFields); code != "" {
		return code
	}
	text := firstOf(ad, rules.TextFields)
	if text == "" {
		return rules.Default
	}
	folded := fold(text)
	for _, tok := range rules.SaleTokens {
		if strings.Contains(folded, fold(tok)) {
			return rules.SaleCode
		}
	}
	return rules.OtherCode
}
