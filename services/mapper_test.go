package services

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-feed-sync/feed"
	"property-feed-sync/models"
	"property-feed-sync/utils"
)

func newTestMapper() *Mapper {
	return NewMapper(DefaultTables(), utils.NewDiscardLogger())
}

func loadAds(t *testing.T, doc []byte) []*feed.Node {
	t.Helper()
	root, err := feed.Parse(feed.Clean(doc))
	require.NoError(t, err)
	f, err := feed.NewFeed(root, "hektor", "ad")
	require.NoError(t, err)
	return f.Ads()
}

func adFrom(t *testing.T, inner string) *feed.Node {
	t.Helper()
	ads := loadAds(t, []byte("<hektor><ad>"+inner+"</ad></hektor>"))
	require.Len(t, ads, 1)
	return ads[0]
}

func TestMapAllSampleFeed(t *testing.T) {
	doc, err := os.ReadFile("testdata/hektor_sample.xml")
	require.NoError(t, err)

	records := newTestMapper().MapAll(loadAds(t, doc))
	require.Len(t, records, 2, "the rental ad is dropped")

	apt := records[0]
	assert.Equal(t, "MK-1001", apt.ExternalID)
	assert.Equal(t, `Appartement T3 "lumineux"`, apt.Title)
	assert.Equal(t, 325000.0, apt.Price)
	assert.Equal(t, "Lyon 69003", apt.Location)
	assert.Equal(t, models.StatusForSale, apt.Status)
	assert.Equal(t, 3, apt.Beds)
	assert.Equal(t, 2, apt.Baths)
	assert.Equal(t, 72, apt.Area)
	require.NotNil(t, apt.SurfaceTotal)
	assert.Equal(t, 72.5, *apt.SurfaceTotal)
	require.NotNil(t, apt.SurfaceBalcony)
	assert.Equal(t, 6.0, *apt.SurfaceBalcony)
	assert.Nil(t, apt.SurfaceGarden)
	assert.Equal(t, "Bel appartement & balcon, proche métro.", apt.Description)
	assert.Equal(t, models.Prestations{
		"parking":  1,
		"elevator": true,
		"balcony":  true,
		"heating":  "individual",
	}, apt.Prestations)
	require.NotNil(t, apt.DPEConsumption)
	assert.Equal(t, "C", *apt.DPEConsumption)
	assert.Equal(t, []string{"https://cdn.example.fr/1001/1.jpg", "https://cdn.example.fr/1001/2.jpg"}, apt.Photos)
	assert.Equal(t, apt.Photos[0], apt.Image)
	require.NotNil(t, apt.PhotoPrincipal)
	assert.Equal(t, apt.Photos[0], *apt.PhotoPrincipal)

	house := records[1]
	assert.Equal(t, "1003", house.ExternalID)
	assert.Equal(t, models.StatusSold, house.Status)
	assert.Equal(t, 0.0, house.Price)
	assert.Equal(t, "69500", house.Location)
	assert.Equal(t, 2, house.Baths)
	assert.Equal(t, 140, house.Area)
	assert.Equal(t, models.Prestations{
		"garage":  2,
		"pool":    true,
		"garden":  true,
		"heating": "electric",
	}, house.Prestations)
	assert.Equal(t, []string{"https://legacy.example.fr/1003/a.jpg", "https://legacy.example.fr/1003/b.jpg"}, house.Photos)
	assert.Equal(t, "https://legacy.example.fr/1003/a.jpg", house.Image)
}

func TestMapOneStatus(t *testing.T) {
	m := newTestMapper()
	tests := []struct {
		inner string
		want  string
	}{
		{"<status>5</status>", models.StatusSold},
		{"<status>3</status>", models.StatusUnderOffer},
		{"<status>4</status>", models.StatusUnderOffer},
		{"<status>2</status>", models.StatusForSale},
		{"<status>1</status>", models.StatusForSale},
		{"<status>0</status>", models.StatusForSale},
		{"<status>99</status>", models.StatusForSale},
		{"", models.StatusForSale},
	}
	for _, tt := range tests {
		got := m.MapOne(adFrom(t, "<id>x</id>"+tt.inner)).Status
		assert.Equal(t, tt.want, got, "ad %q", tt.inner)
	}
}

func TestMapOneDefensiveNumbers(t *testing.T) {
	m := newTestMapper()
	p := m.MapOne(adFrom(t, `<id>x</id><prix></prix><nb_pieces>trois</nb_pieces><surface>n/a</surface><surface_terrasse>abc</surface_terrasse><prix>12</prix>`))
	assert.Equal(t, 0.0, p.Price)
	assert.Equal(t, 0, p.Beds)
	assert.Equal(t, 0, p.Area)
	assert.Nil(t, p.SurfaceTotal)
	assert.Nil(t, p.SurfaceTerrace)

	p = m.MapOne(adFrom(t, `<id>x</id><prix>-15000</prix><nb_pieces>4.7</nb_pieces>`))
	assert.Equal(t, 0.0, p.Price, "negative values clamp to zero")
	assert.Equal(t, 4, p.Beds)
}

func TestMapOnePlaceholders(t *testing.T) {
	p := newTestMapper().MapOne(adFrom(t, `<id>x</id>`))
	assert.Equal(t, "Sans titre", p.Title)
	assert.Equal(t, "Non spécifié", p.Location)
	assert.Equal(t, "/placeholder.jpg", p.Image)
	assert.Nil(t, p.PhotoPrincipal)
	assert.NotNil(t, p.Photos)
	assert.Empty(t, p.Photos)
	assert.Empty(t, p.Prestations)
	assert.Equal(t, "", p.Description)
}

func TestMapOneAmenityOmission(t *testing.T) {
	m := newTestMapper()
	p := m.MapOne(adFrom(t, `<id>x</id><cave>yes</cave><terrasse>False</terrasse><nb_places_parking>0</nb_places_parking>`))
	_, hasPool := p.Prestations["pool"]
	assert.False(t, hasPool, "absent source means absent key")
	assert.NotContains(t, p.Prestations, "cellar", "non-truthy token is omitted")
	assert.NotContains(t, p.Prestations, "terrace")
	assert.NotContains(t, p.Prestations, "parking", "zero counts are omitted")
	assert.NotContains(t, p.Prestations, "heating")
}

func TestMapOneHeatingOrder(t *testing.T) {
	m := newTestMapper()
	tests := []struct {
		inner string
		want  string
	}{
		{`<format_chauffage>Collectif</format_chauffage><energie_chauffage>GAZ</energie_chauffage>`, "collective"},
		{`<energie_chauffage>gaz de ville</energie_chauffage>`, "gas"},
		{`<energie_chauffage>électrique</energie_chauffage>`, "electric"},
		{`<format_chauffage>INDIVIDUEL</format_chauffage><energie_chauffage>ELECTRIQUE</energie_chauffage>`, "individual"},
	}
	for _, tt := range tests {
		p := m.MapOne(adFrom(t, "<id>x</id>"+tt.inner))
		assert.Equal(t, tt.want, p.Prestations["heating"], tt.inner)
	}
}

func TestMapOneIdentityFallbacks(t *testing.T) {
	m := newTestMapper()
	tests := []struct {
		inner string
		want  string
	}{
		{`<id mandateKey="MK">7</id><reference_client>R</reference_client>`, "MK"},
		{`<id>7</id><reference_client>R</reference_client>`, "7"},
		{`<reference_client>R</reference_client>`, "R"},
		{`<reference>R2</reference>`, "R2"},
		{`<titre>no id at all</titre>`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.MapOne(adFrom(t, tt.inner)).ExternalID, tt.inner)
	}
}

func TestMapAllOfferTypeFiltering(t *testing.T) {
	doc := `<hektor>
  <ad><id>1</id><type_offre_code>0</type_offre_code></ad>
  <ad><id>2</id><type_offre_code>1</type_offre_code></ad>
  <ad><id>3</id><type_offre>Vente</type_offre></ad>
  <ad><id>4</id><type_offre_code>1</type_offre_code></ad>
  <ad><id>5</id><type_offre_code>Vente</type_offre_code></ad>
</hektor>`
	records := newTestMapper().MapAll(loadAds(t, []byte(doc)))
	require.Len(t, records, 3)
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ExternalID)
	}
	assert.Equal(t, []string{"1", "3", "5"}, ids)
}

func TestMapOneLegacyPhotoFallback(t *testing.T) {
	p := newTestMapper().MapOne(adFrom(t, `<id>x</id><images></images><photos><photo>http://l/1.jpg</photo><photo>http://l/2.jpg</photo></photos>`))
	assert.Equal(t, []string{"http://l/1.jpg", "http://l/2.jpg"}, p.Photos)
	assert.Equal(t, "http://l/1.jpg", p.Image)
}

func TestIsSale(t *testing.T) {
	m := newTestMapper()
	for _, code := range []string{"0", " 0 ", "0.0", "Vente", "VENTE"} {
		assert.True(t, m.IsSale(code), code)
	}
	for _, code := range []string{"1", "2", "Location", "", "vente-viager"} {
		assert.False(t, m.IsSale(code), code)
	}
}

func TestOfferTypeNeverSerialised(t *testing.T) {
	p := newTestMapper().MapOne(adFrom(t, `<id>x</id><type_offre_code>0</type_offre_code>`))
	assert.Equal(t, "0", p.OfferTypeCode)
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "type_offre"))
	assert.False(t, strings.Contains(string(data), "OfferTypeCode"))
}

func TestParseTablesValidation(t *testing.T) {
	_, err := ParseTables([]byte("ad_element: ad\nstatus:\n  default: available\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status.default")
	assert.Contains(t, err.Error(), "fields.external_id")

	tables, err := LoadTables("")
	require.NoError(t, err)
	assert.Equal(t, "hektor", tables.RootElement)
	assert.Equal(t, []string{"cp", "code_postal"}, tables.Fields["postal_code"])
}

func TestCoercion(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"250 000", 250000},
		{"250 000 €", 250000},
		{"85,5 m²", 85.5},
		{"1200.00", 1200},
		{"", 0},
		{"NaN", 0},
		{"-3", 0},
		{strings.Repeat("9", 400), 0},
		{"1.250.000", 1250000},
		{"1,250,000", 1250000},
		{"1.250.000,50 €", 1250000.5},
		{"1,250.5", 1250.5},
		{"1.250", 1.25},
		{"12.5.2024", 12.5},
	}
	for _, tt := range tests {
		if got := toFloat(tt.raw); got != tt.want {
			t.Errorf("toFloat(%q) = %v; want %v", tt.raw, got, tt.want)
		}
	}
	if g := toGrade(" d "); g == nil || *g != "D" {
		t.Errorf("toGrade(\" d \") = %v; want D", g)
	}
	if g := toGrade("H"); g != nil {
		t.Errorf("toGrade(\"H\") = %v; want nil", *g)
	}
}
