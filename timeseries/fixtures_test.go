package timeseries

import (
	"testing"
	"time"

	"github.com/mlweather/datapipes/store"
)

const (
	testSteps  = 17
	testFaces  = 2
	testHeight = 2
	testWidth  = 2
)

var testVariables = []string{"z1000", "z500"}

// testTimes builds the fixture time axis: testSteps instants 3h apart.
func testTimes() []time.Time {
	start := time.Date(1979, 1, 1, 0, 0, 0, 0, time.UTC)
	times := make([]time.Time, testSteps)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * 3 * time.Hour)
	}
	return times
}

// testDataset builds a small deterministic source dataset shaped like the
// real merged stores: two input variables, precomputed targets, constants,
// channel-name coordinates and lat/lon grids.
func testDataset(t *testing.T) *store.Dataset {
	t.Helper()

	ds := store.NewDataset("healpix", testTimes())
	spatial := testFaces * testHeight * testWidth

	for vi, name := range testVariables {
		a := store.NewArray(
			[]string{store.AxisTime, store.AxisFace, store.AxisHeight, store.AxisWidth},
			[]int{testSteps, testFaces, testHeight, testWidth},
		)
		for ti := 0; ti < testSteps; ti++ {
			for p := 0; p < spatial; p++ {
				a.Data[ti*spatial+p] = float32(100*(vi+1)) + float32(ti) + float32(p)*0.01
			}
		}
		if err := ds.SetVar(name, a); err != nil {
			t.Fatalf("setting variable %s: %v", name, err)
		}
	}

	targets := store.NewArray(
		[]string{store.AxisTime, store.AxisFace, store.AxisChannelOut, store.AxisHeight, store.AxisWidth},
		[]int{testSteps, testFaces, len(testVariables), testHeight, testWidth},
	)
	for ti := 0; ti < testSteps; ti++ {
		for f := 0; f < testFaces; f++ {
			for c := 0; c < len(testVariables); c++ {
				for h := 0; h < testHeight; h++ {
					for w := 0; w < testWidth; w++ {
						targets.Set(1000+float32(ti)+float32(c)*10+float32(f)+float32(h*testWidth+w)*0.01,
							ti, f, c, h, w)
					}
				}
			}
		}
	}
	if err := ds.SetVar(store.VarTargets, targets); err != nil {
		t.Fatalf("setting targets: %v", err)
	}

	constants := store.NewArray(
		[]string{store.AxisChannelC, store.AxisFace, store.AxisHeight, store.AxisWidth},
		[]int{2, testFaces, testHeight, testWidth},
	)
	for i := range constants.Data {
		constants.Data[i] = 5 + float32(i)*0.1
	}
	if err := ds.SetVar(store.VarConstants, constants); err != nil {
		t.Fatalf("setting constants: %v", err)
	}

	ds.Coords[store.AxisChannelOut] = append([]string(nil), testVariables...)
	ds.Coords[store.AxisChannelC] = []string{"lsm", "orog"}

	ds.Lat = store.NewArray([]string{store.AxisFace, store.AxisHeight, store.AxisWidth}, []int{testFaces, testHeight, testWidth})
	ds.Lon = store.NewArray([]string{store.AxisFace, store.AxisHeight, store.AxisWidth}, []int{testFaces, testHeight, testWidth})
	for i := 0; i < spatial; i++ {
		ds.Lat.Data[i] = -45 + float32(i)*10
		ds.Lon.Data[i] = float32(i) * 15
	}

	return ds
}

// halfScaling scales every fixture variable with mean 0 and std 2, which
// halves raw values and makes expected item contents easy to compute.
func halfScaling() ScalingMap {
	m := make(ScalingMap)
	for _, name := range testVariables {
		m[name] = Scaling{Mean: 0, Std: 2}
	}
	return m
}
