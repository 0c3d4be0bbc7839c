package landcover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripperOverviews(t *testing.T) {
	testfunc := func(w, h int, expectedlen int) {
		t.Helper()
		stripper, _ := NewStripper(w, h, InternalTileSize(300, 300), MinOverviewSize(3))
		pyramid := stripper.Pyramid()
		assert.Len(t, pyramid, expectedlen, "%dx%d", w, h)
	}
	cases := [][]int{
		{300, 300, 1},
		{299, 299, 1},
		{301, 301, 2},
		{300, 301, 2},
		{301, 300, 2},
		{301, 4, 2},
		{301, 3, 1},
		{301, 2, 1},
		{4, 301, 2},
		{3, 301, 1},
		{2, 301, 1},
	}
	for _, c := range cases {
		testfunc(c[0], c[1], c[2])
	}
}

func TestStripperCoversImage(t *testing.T) {
	stripper, err := NewStripper(1000, 2345, InternalTileSize(256, 256), TargetPixelCount(300*1000))
	require.NoError(t, err)
	for z, img := range stripper.Pyramid() {
		row := 0
		for _, s := range img.Strips {
			assert.Equal(t, row, s.TopLeftY, "level %d", z)
			assert.Equal(t, img.Width, s.Width)
			if row+s.Height < img.Height {
				assert.Zero(t, s.Height%256, "level %d strip at %d", z, row)
			}
			row += s.Height
		}
		assert.Equal(t, img.Height, row, "level %d", z)
	}
	assert.Equal(t, len(stripper.Pyramid())-1, stripper.OverviewCount())
}

func TestStripperOptions(t *testing.T) {
	s, err := NewStripper(1024, 1024, OverviewCount(0))
	require.NoError(t, err)
	assert.Equal(t, 0, s.OverviewCount())

	_, err = NewStripper(4, 4, OverviewCount(5))
	assert.Error(t, err)
	_, err = NewStripper(0, 4)
	assert.Error(t, err)
	_, err = NewStripper(4, 4, InternalTileSize(0, 1))
	assert.Error(t, err)
	_, err = NewStripper(4, 4, TargetPixelCount(0))
	assert.Error(t, err)
}

func TestRowStrips(t *testing.T) {
	cases := []struct{ w, h, pixels, n int }{
		{10, 10, 1000, 1},
		{10, 10, 30, 4},
		{10, 10, 5, 10},
		{1, 7, 1, 7},
	}
	for _, c := range cases {
		strips, err := rowStrips(c.w, c.h, c.pixels)
		require.NoError(t, err)
		assert.Len(t, strips, c.n, "%dx%d/%d", c.w, c.h, c.pixels)
		total := 0
		for _, s := range strips {
			assert.Equal(t, total, s.TopLeftY)
			total += s.Height
		}
		assert.Equal(t, c.h, total)
	}
}
