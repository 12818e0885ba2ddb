package models

import "time"

// Property statuses stored in the properties table.
const (
	StatusForSale    = "for_sale"
	StatusUnderOffer = "under_offer"
	StatusSold       = "sold"
)

// Property is the canonical record every feed ad is reduced to.
type Property struct {
	ID             int64       `json:"id,omitempty"`
	ExternalID     string      `json:"external_id"`
	Title          string      `json:"title"`
	Price          float64     `json:"price"`
	Location       string      `json:"location"`
	Status         string      `json:"status"`
	Image          string      `json:"image"`
	PhotoPrincipal *string     `json:"photo_principal"`
	Photos         []string    `json:"photos"`
	Beds           int         `json:"beds"`
	Baths          int         `json:"baths"`
	Area           int         `json:"area"`
	Description    string      `json:"description"`
	Prestations    Prestations `json:"prestations"`

	SurfaceTotal   *float64 `json:"surface_totale"`
	SurfaceTerrace *float64 `json:"surface_terrasse"`
	SurfaceBalcony *float64 `json:"surface_balcon"`
	SurfaceCellar  *float64 `json:"surface_cave"`
	SurfaceGarage  *float64 `json:"surface_garage"`
	SurfaceGarden  *float64 `json:"surface_jardin"`

	DPEConsumption *string `json:"dpe_consommation"`
	DPEEmissions   *string `json:"dpe_ges"`

	// OfferTypeCode only drives the sale filter; it is never persisted.
	OfferTypeCode string `json:"-"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Prestations is a sparse amenity map. A key is present only when the feed
// asserts the amenity; values are bool, int or string.
type Prestations map[string]any

// SyncResult summarises one upsert batch.
type SyncResult struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Inserted  int `json:"-"`
	Updated   int `json:"-"`
	Failed    int `json:"-"`
}

// IngestResult is what one pipeline run reports back to its caller.
type IngestResult struct {
	// Extracted is the XML file pulled out of an archive, empty when the
	// source was already XML.
	Extracted string
	RunID     string
	Ads       int
	Mapped    int
	Dropped   int
	Sync      *SyncResult
}
