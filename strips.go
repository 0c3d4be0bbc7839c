package landcover

import (
	"fmt"
	"math"
)

// A Stripper splits a grid and its overviews into horizontal strips of
// roughly similar pixel counts, aligned on the internal tiling height so
// that strips can be computed concurrently and written without sharing a
// tile.
type Stripper struct {
	targetStripPixelCount                     int
	minOverviewSize                           int
	internalTilingWidth, internalTilingHeight int
	overviewCount                             int
	width, height                             int
	pyr                                       Pyramid
}

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

func (s Stripper) Size() (int, int) {
	return s.width, s.height
}

type StripperOption func(t *Stripper) error

// InternalTileSize sets the tiling the strips are aligned on.
func InternalTileSize(width, height int) StripperOption {
	return func(t *Stripper) error {
		if width <= 0 || height <= 0 {
			return ErrInvalidOption{"internal tile width and height must be >=1"}
		}
		t.internalTilingWidth, t.internalTilingHeight = width, height
		return nil
	}
}

func (s Stripper) InternalTileSize() (int, int) {
	return s.internalTilingWidth, s.internalTilingHeight
}

// MinOverviewSize stops adding overviews once one of width or height has
// reached this value.
func MinOverviewSize(size int) StripperOption {
	return func(t *Stripper) error {
		if size <= 0 {
			return ErrInvalidOption{"minimal overview size must be >=1"}
		}
		t.minOverviewSize = size
		return nil
	}
}

// OverviewCount forces the number of overviews. By default overviews are
// added until the image fits in a single internal tile; 0 disables them.
func OverviewCount(count int) StripperOption {
	return func(t *Stripper) error {
		if count < 0 {
			return ErrInvalidOption{"overview count must be >=0"}
		}
		t.overviewCount = count
		return nil
	}
}

func (s Stripper) OverviewCount() int {
	return len(s.pyr) - 1
}

// TargetPixelCount is the approximate number of pixels of a single strip.
// It is adjusted to fit the internal tiling height.
func TargetPixelCount(count int) StripperOption {
	return func(t *Stripper) error {
		if count <= 0 {
			return ErrInvalidOption{"target pixel count must be >=1"}
		}
		t.targetStripPixelCount = count
		return nil
	}
}

// NewStripper creates a stripper for a grid of given width and height.
// Default options are:
// - 1 MPixel strips
// - 256x256 internal tiling
// - overviews down to a single internal tile
func NewStripper(width, height int, options ...StripperOption) (Stripper, error) {
	var err error
	t := Stripper{
		width:                 width,
		height:                height,
		targetStripPixelCount: 1024 * 1024,
		internalTilingWidth:   256,
		internalTilingHeight:  256,
		overviewCount:         -1,
		minOverviewSize:       2,
	}
	for _, o := range options {
		if err := o(&t); err != nil {
			return t, err
		}
	}
	if t.pyr, err = t.pyramid(width, height); err != nil {
		return t, err
	}
	return t, nil
}

// A Strip is a rectangle of Width*Height pixels whose upper left corner is
// TopLeftX,TopLeftY. Its pixels are computed from rows
// [SrcTopLeftY,SrcTopLeftY+SrcHeight) of the previous pyramid level, or of
// the source grid for the full resolution level.
type Strip struct {
	Width, Height      int
	TopLeftX, TopLeftY int
	SrcTopLeftY        float64
	SrcHeight          float64
}

// An Image is a Width*Height rectangle of pixels and its decomposition into
// strips that can be processed concurrently.
type Image struct {
	Width, Height int
	Strips        []Strip
}

// A Pyramid is the full resolution Image at index 0 followed by its
// overviews, each half the size of the previous one.
type Pyramid []Image

func (t Stripper) Pyramid() Pyramid {
	return t.pyr
}

// Strips returns the full resolution strips.
func (t Stripper) Strips() []Strip {
	return t.pyr[0].Strips
}

func (t Stripper) pyramid(width, height int) (Pyramid, error) {
	if width*height == 0 {
		return nil, ErrInvalidOption{"cannot strip 0-sized image"}
	}
	overviewCount := t.overviewCount
	if overviewCount == -1 {
		iw, ih := width, height
		overviewCount = 0
		for (iw > t.internalTilingWidth || ih > t.internalTilingHeight) &&
			(iw > t.minOverviewSize && ih > t.minOverviewSize) {
			overviewCount++
			iw = (iw + 1) / 2
			ih = (ih + 1) / 2
		}
	}
	pyramid := make([]Image, overviewCount+1)

	iw, ih := width, height
	pyramid[0] = t.stripping(width, height, width, height)
	for ovr := 1; ovr <= overviewCount; ovr++ {
		if iw <= 1 || ih <= 1 {
			return nil, ErrInvalidOption{"requested overview count results in 0-sized image"}
		}
		niw := (iw + 1) / 2
		nih := (ih + 1) / 2
		pyramid[ovr] = t.stripping(iw, ih, niw, nih)
		iw = niw
		ih = nih
	}
	return pyramid, nil
}

func (t Stripper) stripping(srcWidth, srcHeight, dstWidth, dstHeight int) Image {
	numStrips := (dstWidth * dstHeight) / t.targetStripPixelCount
	if numStrips == 0 {
		numStrips = 1
	}
	stripHeight := dstHeight / numStrips
	if stripHeight <= t.internalTilingHeight {
		stripHeight = t.internalTilingHeight
	}
	if stripHeight%t.internalTilingHeight != 0 {
		stripHeight = (stripHeight/t.internalTilingHeight + 1) * t.internalTilingHeight
	}
	numStrips = int(math.Ceil(float64(dstHeight) / float64(stripHeight)))

	resY := float64(srcHeight) / float64(dstHeight)
	img := Image{
		Width:  dstWidth,
		Height: dstHeight,
	}
	dstRow := 0
	for s := 0; s < numStrips; s++ {
		thisHeight := stripHeight
		if dstRow+stripHeight > dstHeight {
			thisHeight = dstHeight - dstRow
		}
		img.Strips = append(img.Strips, Strip{
			SrcTopLeftY: float64(dstRow) * resY,
			SrcHeight:   float64(thisHeight) * resY,
			Width:       dstWidth,
			Height:      thisHeight,
			TopLeftY:    dstRow,
		})
		dstRow += stripHeight
	}
	return img
}

// rowStrips partitions a width x height grid into full resolution strips
// holding about pixels pixels each, without tiling alignment.
func rowStrips(width, height, pixels int) ([]Strip, error) {
	rows := 1
	if width > 0 {
		rows = pixels / width
	}
	if rows < 1 {
		rows = 1
	}
	s, err := NewStripper(width, height,
		InternalTileSize(max(width, 1), rows),
		TargetPixelCount(max(pixels, 1)),
		OverviewCount(0))
	if err != nil {
		return nil, fmt.Errorf("partition %dx%d: %w", width, height, err)
	}
	return s.Strips(), nil
}
