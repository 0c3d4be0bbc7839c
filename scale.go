package landcover

import (
	"math"
)

// BandScale converts raw digital numbers of Band to reflectance.
type BandScale struct {
	Band   string  `json:"band"`
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// IndexDef defines the normalized difference (A-B)/(A+B) stored as Name.
type IndexDef struct {
	Name string `json:"name"`
	A    string `json:"a"`
	B    string `json:"b"`
}

// NormalizedDifference returns the index definition (a-b)/(a+b).
func NormalizedDifference(name, a, b string) IndexDef {
	return IndexDef{Name: name, A: a, B: b}
}

// NDVI is the vegetation index (NIR-Red)/(NIR+Red).
func NDVI(nir, red string) IndexDef { return NormalizedDifference("NDVI", nir, red) }

// NDWI is the McFeeters water index (Green-NIR)/(Green+NIR).
func NDWI(green, nir string) IndexDef { return NormalizedDifference("NDWI", green, nir) }

// MNDWI is the modified water index (Green-SWIR1)/(Green+SWIR1).
func MNDWI(green, swir1 string) IndexDef { return NormalizedDifference("MNDWI", green, swir1) }

// NDBI is the built-up index (SWIR1-NIR)/(SWIR1+NIR).
func NDBI(swir1, nir string) IndexDef { return NormalizedDifference("NDBI", swir1, nir) }

// Landsat8C2Scale returns the Collection 2 Level 2 surface reflectance
// scaling of the OLI bands SR_B1..SR_B7.
func Landsat8C2Scale() []BandScale {
	bands := []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7"}
	scales := make([]BandScale, len(bands))
	for i, b := range bands {
		scales[i] = BandScale{Band: b, Scale: 0.0000275, Offset: -0.2}
	}
	return scales
}

// Landsat8Indices returns NDVI, MNDWI and NDBI over the OLI band names.
func Landsat8Indices() []IndexDef {
	return []IndexDef{
		NDVI("SR_B5", "SR_B4"),
		MNDWI("SR_B3", "SR_B6"),
		NDBI("SR_B6", "SR_B5"),
	}
}

// Sentinel2Scale returns the L2A reflectance scaling for the given bands.
func Sentinel2Scale(bands ...string) []BandScale {
	if len(bands) == 0 {
		bands = []string{"B2", "B3", "B4", "B5", "B6", "B7", "B8", "B8A", "B11", "B12"}
	}
	scales := make([]BandScale, len(bands))
	for i, b := range bands {
		scales[i] = BandScale{Band: b, Scale: 0.0001}
	}
	return scales
}

// ScaleAndIndex applies the band scales to a copy of m, then appends one
// band per index definition. Scaled bands carry DefaultNoData whatever the
// no-data value of the raw band. Index pixels are no-data where either input is
// no-data or where A+B is zero; they are never NaN or infinite.
func ScaleAndIndex(m *MaskedTile, scales []BandScale, indices []IndexDef) (*MaskedTile, error) {
	out := m.Tile.clone()
	for _, s := range scales {
		b, err := out.Band(s.Band)
		if err != nil {
			return nil, err
		}
		for i, v := range b.Data {
			if b.IsNoData(i) {
				b.Data[i] = DefaultNoData
				continue
			}
			b.Data[i] = dataValue(v*s.Scale + s.Offset)
		}
		b.NoData = DefaultNoData
	}
	for _, idx := range indices {
		a, err := out.Band(idx.A)
		if err != nil {
			return nil, err
		}
		b, err := out.Band(idx.B)
		if err != nil {
			return nil, err
		}
		nd := NewBand(idx.Name, out.Size(), DefaultNoData)
		for i := range nd.Data {
			if a.IsNoData(i) || b.IsNoData(i) {
				continue
			}
			nd.Data[i] = normalizedDifference(a.Data[i], b.Data[i], nd.NoData)
		}
		if err := out.AddBand(nd); err != nil {
			return nil, err
		}
	}
	valid := make([]bool, len(m.Valid))
	copy(valid, m.Valid)
	return &MaskedTile{Tile: out, Valid: valid}, nil
}

func normalizedDifference(a, b, nodata float64) float64 {
	sum := a + b
	if sum == 0 {
		return nodata
	}
	v := (a - b) / sum
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nodata
	}
	return v
}
