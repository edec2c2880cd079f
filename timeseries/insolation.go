package timeseries

import (
	"fmt"
	"math"
	"time"

	"github.com/mlweather/datapipes/store"
)

// Solar constant in W/m^2.
const solarConstant = 1361.0

// insolationAt computes top-of-atmosphere solar irradiance for one instant
// at one location, in W/m^2. Zero when the sun is below the horizon. Uses
// the standard declination/hour-angle formulation with a first-order
// eccentricity correction; accuracy is well within what a learned model
// needs from a diurnal-cycle channel.
func insolationAt(t time.Time, latDeg, lonDeg float64) float64 {
	doy := float64(t.YearDay())
	hours := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600

	// Solar declination.
	decl := -23.44 * math.Pi / 180 * math.Cos(2*math.Pi*(doy+10)/365.25)

	// Local hour angle: solar noon at the Greenwich meridian when
	// hours == 12, shifted by longitude.
	hourAngle := 2*math.Pi*hours/24 + lonDeg*math.Pi/180 - math.Pi

	lat := latDeg * math.Pi / 180
	cosZenith := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(hourAngle)
	if cosZenith <= 0 {
		return 0
	}

	// Sun-earth distance correction.
	ecc := 1 + 0.033*math.Cos(2*math.Pi*doy/365.25)
	return solarConstant * ecc * cosZenith
}

// insolationField computes the irradiance grid for one instant over the
// dataset's lat/lon coordinates, with the same (face, height, width) shape.
func insolationField(ds *store.Dataset, t time.Time) (*store.Array, error) {
	if ds.Lat == nil || ds.Lon == nil {
		return nil, fmt.Errorf("dataset %q has no lat/lon coordinates, required for insolation", ds.Name)
	}
	if ds.Lat.Size() != ds.Lon.Size() {
		return nil, fmt.Errorf("lat grid has %d points, lon grid has %d", ds.Lat.Size(), ds.Lon.Size())
	}
	out := store.NewArray(ds.Lat.Axes, ds.Lat.Dims)
	for i := range out.Data {
		out.Data[i] = float32(insolationAt(t, float64(ds.Lat.Data[i]), float64(ds.Lon.Data[i])))
	}
	return out, nil
}
