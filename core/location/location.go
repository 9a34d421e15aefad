// Package location provides the player's position for location-aware
// requests.
package location

import (
	"context"
	"time"

	"github.com/koscakluka/reality-quest/core/game"
	"github.com/m-mizutani/goerr/v2"
)

type Geocoder interface {
	ReverseGeocode(ctx context.Context, latitude, longitude float64) (string, error)
}

// Fixed reports a configured position. A terminal has no positioning
// hardware, so the position comes from configuration.
type Fixed struct {
	position *game.GeoLocation
	geocoder Geocoder
	now      func() time.Time
}

type FixedOption func(*Fixed)

func WithGeocoder(geocoder Geocoder) FixedOption {
	return func(f *Fixed) { f.geocoder = geocoder }
}

func WithClock(now func() time.Time) FixedOption {
	return func(f *Fixed) { f.now = now }
}

// NewFixed returns an unavailable service when latitude and longitude are
// both zero.
func NewFixed(latitude, longitude, accuracy float64, opts ...FixedOption) *Fixed {
	f := &Fixed{now: time.Now}
	if latitude != 0 || longitude != 0 {
		f.position = &game.GeoLocation{Latitude: latitude, Longitude: longitude, Accuracy: accuracy}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fixed) IsAvailable() bool {
	return f.position != nil
}

// CurrentPosition geocodes the address on each call; a failed lookup only
// leaves Address empty.
func (f *Fixed) CurrentPosition(ctx context.Context) (game.GeoLocation, error) {
	if f.position == nil {
		return game.GeoLocation{}, goerr.New("location is not configured")
	}

	position := *f.position
	position.Timestamp = f.now()
	if f.geocoder != nil {
		address, err := f.geocoder.ReverseGeocode(ctx, position.Latitude, position.Longitude)
		if err != nil {
			logger.Warn("reverse geocode failed", "error", err)
		} else {
			position.Address = address
		}
	}
	return position, nil
}
