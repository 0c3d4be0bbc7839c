package landcover

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/tiff"
	"github.com/paulmach/orb"
	"sigs.k8s.io/yaml"
)

// BandSource locates one band of a scene: a raster file and the 1-based
// band index inside it.
type BandSource struct {
	Path  string `json:"path"`
	Index int    `json:"index,omitempty"`
}

// A Scene is a catalog entry describing a single acquisition.
type Scene struct {
	ID         string                `json:"id"`
	Acquired   time.Time             `json:"acquired"`
	CloudCover float64               `json:"cloudCover"`
	Footprint  []float64             `json:"footprint,omitempty"`
	Bands      map[string]BandSource `json:"bands"`
}

// Bound returns the scene footprint given as minx,miny,maxx,maxy.
func (s Scene) Bound() (orb.Bound, bool) {
	if len(s.Footprint) != 4 {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{s.Footprint[0], s.Footprint[1]},
		Max: orb.Point{s.Footprint[2], s.Footprint[3]},
	}, true
}

// A Query selects scenes acquired in [Start,End), under MaxCloudCover
// percent, whose footprint intersects Region and that carry every band in
// Bands. Zero fields do not filter.
type Query struct {
	Start, End    time.Time
	MaxCloudCover float64
	Region        orb.Geometry
	Bands         []string
}

// A Catalog is a local scene manifest, the store tiles are loaded from.
type Catalog struct {
	// Root is prepended to relative band paths.
	Root   string  `json:"-"`
	Scenes []Scene `json:"scenes"`
}

// ReadCatalog decodes a YAML (or JSON) scene manifest. Relative band paths
// are resolved against root.
func ReadCatalog(r io.Reader, root string) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c.Root = root
	for i, s := range c.Scenes {
		if s.ID == "" {
			return nil, fmt.Errorf("scene %d has no id", i)
		}
		if len(s.Bands) == 0 {
			return nil, fmt.Errorf("scene %s has no bands", s.ID)
		}
	}
	return c, nil
}

// Path resolves a band path of the catalog.
func (c *Catalog) Path(p string) string {
	if c.Root == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	if strings.Contains(c.Root, "://") {
		return strings.TrimSuffix(c.Root, "/") + "/" + p
	}
	return filepath.Join(c.Root, p)
}

// Query returns the matching scenes ordered by acquisition time.
func (c *Catalog) Query(q Query) ([]Scene, error) {
	var region orb.Bound
	if q.Region != nil {
		region = q.Region.Bound()
	}
	var out []Scene
scenes:
	for _, s := range c.Scenes {
		if !q.Start.IsZero() && s.Acquired.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && !s.Acquired.Before(q.End) {
			continue
		}
		if q.MaxCloudCover > 0 && s.CloudCover > q.MaxCloudCover {
			continue
		}
		if q.Region != nil {
			if fp, ok := s.Bound(); ok && !fp.Intersects(region) {
				continue
			}
		}
		for _, b := range q.Bands {
			if _, ok := s.Bands[b]; !ok {
				continue scenes
			}
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrNoScenes
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Acquired.Before(out[j].Acquired) })
	return out, nil
}

// A TileLoader reads the given bands of a scene into a tile.
type TileLoader interface {
	LoadTile(ctx context.Context, c *Catalog, s Scene, bands []string) (*Tile, error)
}

// Opener opens a raster file for random access.
type Opener func(ctx context.Context, name string) (tiff.ReadAtReadSeeker, error)

// OpenFile is the local filesystem Opener.
func OpenFile(_ context.Context, name string) (tiff.ReadAtReadSeeker, error) {
	return os.Open(name)
}

// GeoTIFFLoader loads scenes whose bands are GeoTIFF files sharing a grid.
type GeoTIFFLoader struct {
	Open Opener
}

func (l GeoTIFFLoader) LoadTile(ctx context.Context, c *Catalog, s Scene, bands []string) (*Tile, error) {
	open := l.Open
	if open == nil {
		open = OpenFile
	}
	t := &Tile{ID: s.ID, Acquired: s.Acquired, CloudCover: s.CloudCover}
	files := map[string]*Tile{}
	for i, name := range bands {
		src, ok := s.Bands[name]
		if !ok {
			return nil, &InvalidBandError{Band: name, Tile: s.ID}
		}
		path := c.Path(src.Path)
		ft, ok := files[path]
		if !ok {
			r, err := open(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", path, err)
			}
			ft, err = ReadGeoTIFF(r, path)
			if cl, ok := r.(io.Closer); ok {
				cl.Close()
			}
			if err != nil {
				return nil, err
			}
			files[path] = ft
		}
		idx := src.Index
		if idx == 0 {
			idx = 1
		}
		if idx < 1 || idx > len(ft.Bands) {
			return nil, &InvalidBandError{Band: name, Tile: s.ID,
				Reason: fmt.Sprintf("band index %d out of range in %s", idx, path)}
		}
		if i == 0 {
			t.Grid = ft.Grid
		} else if !ft.Grid.Equal(t.Grid) {
			return nil, &GridMismatchError{Tile: s.ID + "/" + name, Want: t.Grid, Got: ft.Grid}
		}
		b := ft.Bands[idx-1]
		t.Bands = append(t.Bands, &Band{Name: name, NoData: b.NoData, Data: b.Data})
	}
	return t, nil
}
