package landcover

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoScenes is returned when a catalog query selects nothing.
var ErrNoScenes = errors.New("no scenes match query")

// InvalidBandError is returned when a referenced band is missing from a
// tile, or when an output band name collides with an existing one.
type InvalidBandError struct {
	Band   string
	Tile   string
	Reason string
}

func (e *InvalidBandError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "not found"
	}
	if e.Tile != "" {
		return fmt.Sprintf("band %q in tile %s: %s", e.Band, e.Tile, reason)
	}
	return fmt.Sprintf("band %q: %s", e.Band, reason)
}

// EmptyTrainingSetError is returned when a class label yields no training
// samples. Label is NoClass when the whole training set is empty.
type EmptyTrainingSetError struct {
	Label int
}

func (e *EmptyTrainingSetError) Error() string {
	if e.Label == NoClass {
		return "empty training set"
	}
	return fmt.Sprintf("no training samples for label %d", e.Label)
}

// FeatureMismatchError is returned when inputs handed to a trained model do
// not carry the features it was trained on.
type FeatureMismatchError struct {
	Want, Got int
	Missing   []string
}

func (e *FeatureMismatchError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("feature mismatch: missing bands %s", strings.Join(e.Missing, ","))
	}
	return fmt.Sprintf("feature mismatch: want %d features, got %d", e.Want, e.Got)
}

// UnknownClassLabelError is returned when a classified pixel carries a label
// absent from the class table.
type UnknownClassLabelError struct {
	Label int
}

func (e *UnknownClassLabelError) Error() string {
	return fmt.Sprintf("unknown class label %d", e.Label)
}

// GridMismatchError is returned when tiles that must share a pixel grid
// do not.
type GridMismatchError struct {
	Tile string
	Want Grid
	Got  Grid
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("tile %s: grid %dx%d %v does not match %dx%d %v", e.Tile,
		e.Got.Width, e.Got.Height, e.Got.GeoTransform,
		e.Want.Width, e.Want.Height, e.Want.GeoTransform)
}
