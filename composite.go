package landcover

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/airbusgeo/landcover/log"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

type compositeOptions struct {
	workers     int
	stripPixels int
	bands       []string
}

type CompositeOption func(o *compositeOptions) error

// CompositeWorkers sets the number of strips reduced concurrently.
func CompositeWorkers(n int) CompositeOption {
	return func(o *compositeOptions) error {
		if n <= 0 {
			return ErrInvalidOption{"composite workers must be >=1"}
		}
		o.workers = n
		return nil
	}
}

// CompositeStripPixels sets the approximate number of pixels handled by a
// single worker task.
func CompositeStripPixels(n int) CompositeOption {
	return func(o *compositeOptions) error {
		if n <= 0 {
			return ErrInvalidOption{"composite strip pixel count must be >=1"}
		}
		o.stripPixels = n
		return nil
	}
}

// CompositeBands restricts the composite to the named bands. By default
// every band of the first tile is reduced.
func CompositeBands(bands ...string) CompositeOption {
	return func(o *compositeOptions) error {
		o.bands = bands
		return nil
	}
}

// Composite reduces a time series of masked tiles to their per-pixel,
// per-band median. Values are taken only where the tile's mask is valid and
// the band holds data; an even number of values yields the mean of the two
// middle ones, none yields DefaultNoData whatever the no-data values of the
// inputs. The result does not depend on the order of tiles.
func Composite(ctx context.Context, tiles []*MaskedTile, opts ...CompositeOption) (*CompositeRaster, error) {
	o := compositeOptions{
		workers:     runtime.NumCPU(),
		stripPixels: 256 * 1024,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("composite: no tiles")
	}
	ref := tiles[0]
	bands := o.bands
	if len(bands) == 0 {
		bands = ref.BandNames()
	}
	for _, t := range tiles {
		if !t.Grid.Equal(ref.Grid) {
			return nil, &GridMismatchError{Tile: t.ID, Want: ref.Grid, Got: t.Grid}
		}
		if len(t.Valid) != t.Size() {
			return nil, fmt.Errorf("tile %s: mask has %d pixels, want %d", t.ID, len(t.Valid), t.Size())
		}
	}

	// src[b][t] is band b of tile t
	src := make([][]*Band, len(bands))
	out := &CompositeRaster{Tile: &Tile{Grid: ref.Grid, ID: "composite"}}
	for bi, name := range bands {
		src[bi] = make([]*Band, len(tiles))
		for ti, t := range tiles {
			b, err := t.Band(name)
			if err != nil {
				return nil, err
			}
			src[bi][ti] = b
		}
		out.Bands = append(out.Bands, NewBand(name, ref.Size(), DefaultNoData))
	}

	strips, err := rowStrips(ref.Width, ref.Height, o.stripPixels)
	if err != nil {
		return nil, err
	}
	log.Logger(ctx).Debug("compositing",
		zap.Int("tiles", len(tiles)), zap.Int("bands", len(bands)), zap.Int("strips", len(strips)))

	pool := gobs.NewPool(o.workers)
	batch := pool.Batch()
	for _, strip := range strips {
		strip := strip
		batch.Submit(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			values := make([]float64, 0, len(tiles))
			start := strip.TopLeftY * ref.Width
			end := start + strip.Height*ref.Width
			for bi, dst := range out.Bands {
				for px := start; px < end; px++ {
					values = values[:0]
					for ti, t := range tiles {
						if !t.Valid[px] || src[bi][ti].IsNoData(px) {
							continue
						}
						values = append(values, src[bi][ti].Data[px])
					}
					if len(values) > 0 {
						dst.Data[px] = dataValue(median(values))
					}
				}
			}
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}
	return out, nil
}

// median sorts values in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
