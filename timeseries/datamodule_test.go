package timeseries

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlweather/datapipes/store"
)

// writeFixtureStore persists the synthetic dataset as a prebuilt zarr store
// and returns its directory.
func writeFixtureStore(t *testing.T, ds *store.Dataset) string {
	t.Helper()
	dir := t.TempDir()
	if err := store.WriteZarr(filepath.Join(dir, ds.Name+store.Ext), ds); err != nil {
		t.Fatalf("writing fixture store: %v", err)
	}
	return dir
}

func testSplits() *Splits {
	day1 := time.Date(1979, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(1979, 1, 2, 0, 0, 0, 0, time.UTC)
	return &Splits{
		TrainStart: day1,
		TrainEnd:   day1.Add(21 * time.Hour),
		ValStart:   day2,
		ValEnd:     day2.Add(9 * time.Hour),
		TestStart:  day2.Add(12 * time.Hour),
		TestEnd:    day2.Add(21 * time.Hour),
	}
}

func TestNewDataModuleValidation(t *testing.T) {
	ds := testDataset(t)

	t.Run("invalid data format", func(t *testing.T) {
		_, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName: "healpix",
			DataFormat:  "null",
			Dataset:     ds,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidFormat)
		assert.Contains(t, err.Error(), "'data_format' must be one of")
	})

	t.Run("missing dataset name", func(t *testing.T) {
		_, err := NewDataModule(context.Background(), DataModuleConfig{
			DataFormat: "memory",
			Dataset:    ds,
		})
		assert.Error(t, err)
	})

	t.Run("memory format requires a dataset", func(t *testing.T) {
		_, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName: "healpix",
			DataFormat:  "memory",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("memory format construction", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			Scaling:        halfScaling(),
			BatchSize:      1,
		})
		require.NoError(t, err)
		assert.NotNil(t, m.TrainDataset())
	})
}

func TestNewDataModuleZarr(t *testing.T) {
	ds := testDataset(t)
	dir := writeFixtureStore(t, ds)

	t.Run("prebuilt store", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			SrcDirectory:   t.TempDir(),
			DstDirectory:   dir,
			DatasetName:    ds.Name,
			Prebuilt:       true,
			InputVariables: []string{"z500", "z1000"},
			Scaling:        halfScaling(),
			BatchSize:      1,
		})
		require.NoError(t, err)
		assert.Equal(t, testSteps, m.TrainDataset().Source().NumTimes())
	})

	t.Run("merge then load", func(t *testing.T) {
		srcDir := t.TempDir()
		varsPart := store.NewDataset("vars", ds.Times)
		require.NoError(t, varsPart.SetVar("z500", ds.Vars["z500"]))
		require.NoError(t, varsPart.SetVar("z1000", ds.Vars["z1000"]))
		varsPart.Lat, varsPart.Lon = ds.Lat, ds.Lon
		require.NoError(t, store.WriteZarr(filepath.Join(srcDir, "vars"+store.Ext), varsPart))

		auxPart := store.NewDataset("aux", ds.Times)
		require.NoError(t, auxPart.SetVar(store.VarTargets, ds.Vars[store.VarTargets]))
		require.NoError(t, auxPart.SetVar(store.VarConstants, ds.Vars[store.VarConstants]))
		auxPart.Coords = ds.Coords
		require.NoError(t, store.WriteZarr(filepath.Join(srcDir, "aux"+store.Ext), auxPart))

		dstDir := t.TempDir()
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			SrcDirectory:   srcDir,
			DstDirectory:   dstDir,
			DatasetName:    "merged",
			Prebuilt:       false,
			InputVariables: []string{"z500", "z1000"},
			BatchSize:      1,
		})
		require.NoError(t, err)
		source := m.TrainDataset().Source()
		assert.Equal(t, testSteps, source.NumTimes())
		assert.True(t, source.HasVar("z500"))
		assert.True(t, source.HasVar(store.VarTargets))
	})

	t.Run("forecast init times", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DstDirectory:      dir,
			DatasetName:       ds.Name,
			Prebuilt:          true,
			InputVariables:    []string{"z500", "z1000"},
			BatchSize:         1,
			ForecastInitTimes: ds.Times[:2],
		})
		require.NoError(t, err)
		assert.True(t, m.TestDataset().ForecastMode())
		assert.Equal(t, 2, m.TestDataset().Len())
	})

	t.Run("with splits", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DstDirectory:   dir,
			DatasetName:    ds.Name,
			Prebuilt:       true,
			InputVariables: []string{"z500", "z1000"},
			BatchSize:      1,
			Splits:         testSplits(),
		})
		require.NoError(t, err)
		assert.Equal(t, 8, m.TrainDataset().Source().NumTimes())
		assert.Equal(t, 4, m.ValDataset().Source().NumTimes())
		assert.Equal(t, 4, m.TestDataset().Source().NumTimes())
	})
}

func TestDataModuleGetConstants(t *testing.T) {
	ds := testDataset(t)

	t.Run("nil constants mapping disables constants", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			BatchSize:      1,
		})
		require.NoError(t, err)
		assert.Nil(t, m.GetConstants())
	})

	t.Run("full constants mapping keeps the transposed tensor", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			Constants:      map[string]string{"lsm": "lsm", "orog": "orog"},
			BatchSize:      1,
		})
		require.NoError(t, err)
		expected := ds.Vars[store.VarConstants].Transpose(1, 0, 2, 3)
		assert.True(t, expected.Equal(m.GetConstants()))
	})

	t.Run("partial constants mapping subsets the channels", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			Constants:      map[string]string{"lsm": "land_sea_mask"},
			BatchSize:      1,
		})
		require.NoError(t, err)

		// Only the lsm channel, exposed under its mapped name.
		lsm, err := store.Stack(store.AxisChannelC, ds.Vars[store.VarConstants].Index(0))
		require.NoError(t, err)
		assert.True(t, lsm.Transpose(1, 0, 2, 3).Equal(m.GetConstants()))
		coords := m.TrainDataset().Source().Coords[store.AxisChannelC]
		assert.Equal(t, []string{"land_sea_mask"}, coords)
	})

	t.Run("mapping an unknown constant fails", func(t *testing.T) {
		_, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			Constants:      map[string]string{"glacier": "glacier"},
			BatchSize:      1,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownVariable)
		assert.Contains(t, err.Error(), "glacier")
	})

	t.Run("with splits constants come from the train split", func(t *testing.T) {
		m, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			Constants:      map[string]string{"lsm": "lsm", "orog": "orog"},
			BatchSize:      1,
			Splits:         testSplits(),
		})
		require.NoError(t, err)
		expected := ds.Vars[store.VarConstants].Transpose(1, 0, 2, 3)
		assert.True(t, expected.Equal(m.GetConstants()))
		assert.True(t, expected.Equal(m.TrainDataset().GetConstants()))
	})
}

func TestDataModuleDataloaders(t *testing.T) {
	ds := testDataset(t)
	m, err := NewDataModule(context.Background(), DataModuleConfig{
		DatasetName:    "healpix",
		DataFormat:     "memory",
		Dataset:        ds,
		InputVariables: []string{"z500", "z1000"},
		BatchSize:      1,
		Splits:         testSplits(),
	})
	require.NoError(t, err)

	t.Run("single shard has no sampler", func(t *testing.T) {
		for _, build := range []func(int) (*Loader, *DistributedSampler, error){
			m.TrainDataloader, m.ValDataloader, m.TestDataloader,
		} {
			loader, sampler, err := build(1)
			require.NoError(t, err)
			assert.Nil(t, sampler)
			assert.NotNil(t, loader)
		}
	})

	t.Run("multiple shards get a distributed sampler", func(t *testing.T) {
		for _, build := range []func(int) (*Loader, *DistributedSampler, error){
			m.TrainDataloader, m.ValDataloader, m.TestDataloader,
		} {
			loader, sampler, err := build(2)
			require.NoError(t, err)
			require.NotNil(t, sampler)
			assert.Equal(t, 2, sampler.NumReplicas())
			assert.NotNil(t, loader)
		}
	})

	t.Run("invalid shard count", func(t *testing.T) {
		_, _, err := m.TrainDataloader(0)
		assert.Error(t, err)
	})

	t.Run("shuffled training order follows the seed", func(t *testing.T) {
		shuffled, err := NewDataModule(context.Background(), DataModuleConfig{
			DatasetName:    "healpix",
			DataFormat:     "memory",
			Dataset:        ds,
			InputVariables: []string{"z500", "z1000"},
			BatchSize:      1,
			Shuffle:        true,
			Seed:           13,
		})
		require.NoError(t, err)
		loader, sampler, err := shuffled.TrainDataloader(1)
		require.NoError(t, err)
		assert.Nil(t, sampler)
		assert.Equal(t, shuffled.TrainDataset().Len(), loader.Len())
	})
}
