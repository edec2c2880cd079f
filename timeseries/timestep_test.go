package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	testData := map[string]struct {
		in       string
		expected time.Duration
		wantErr  bool
	}{
		"hours":      {in: "3h", expected: 3 * time.Hour},
		"minutes":    {in: "90m", expected: 90 * time.Minute},
		"days":       {in: "2d", expected: 48 * time.Hour},
		"mixed":      {in: "6h30m", expected: 6*time.Hour + 30*time.Minute},
		"empty":      {in: "", wantErr: true},
		"garbage":    {in: "lots", wantErr: true},
		"bad days":   {in: "xd", wantErr: true},
		"whitespace": {in: " 3h ", expected: 3 * time.Hour},
	}
	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			d, err := ParseStep(td.in)
			if td.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, td.expected, d)
		})
	}
}

func TestValidateTimeSteps(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		ts, err := ValidateTimeSteps("", "", "")
		require.NoError(t, err)
		assert.Equal(t, 3*time.Hour, ts.Data)
		assert.Equal(t, 6*time.Hour, ts.Step)
		assert.Equal(t, 2, ts.Interval)
		assert.Zero(t, ts.GapSteps)
	})

	t.Run("interval and gap ratios", func(t *testing.T) {
		ts, err := ValidateTimeSteps("3h", "9h", "6h")
		require.NoError(t, err)
		assert.Equal(t, 3, ts.Interval)
		assert.Equal(t, 2, ts.GapSteps)
	})

	t.Run("time step not a multiple", func(t *testing.T) {
		_, err := ValidateTimeSteps("2h", "5h", "")
		require.ErrorIs(t, err, ErrInvalidTimeStep)
		assert.Contains(t, err.Error(), "'time_step' must be a multiple of 'data_time_step'")
	})

	t.Run("gap not a multiple", func(t *testing.T) {
		_, err := ValidateTimeSteps("2h", "6h", "3h")
		require.ErrorIs(t, err, ErrInvalidTimeStep)
		assert.Contains(t, err.Error(), "'gap' must be a multiple of 'data_time_step'")
	})

	t.Run("unparseable fields name themselves", func(t *testing.T) {
		_, err := ValidateTimeSteps("nope", "6h", "")
		require.ErrorIs(t, err, ErrInvalidTimeStep)
		assert.Contains(t, err.Error(), "'data_time_step'")

		_, err = ValidateTimeSteps("3h", "nope", "")
		require.ErrorIs(t, err, ErrInvalidTimeStep)
		assert.Contains(t, err.Error(), "'time_step'")
	})
}
