package contribution_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/club-ledger/contribution"
)

func TestPeriod_KeyIsFirstOfMonthUTC(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	p := contribution.PeriodOf(time.Date(2025, time.March, 17, 23, 30, 0, 0, loc))

	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), p.Key())
	assert.Equal(t, "2025-03-01", p.KeyString())
	assert.Equal(t, "2025-03", p.String())
}

func TestPeriod_NextAndPreviousCrossYears(t *testing.T) {
	dec := contribution.NewPeriod(2024, time.December)

	assert.Equal(t, contribution.NewPeriod(2025, time.January), dec.Next())
	assert.Equal(t, dec, dec.Next().Previous())
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    contribution.Period
		wantErr bool
	}{
		{in: "2025-06", want: contribution.NewPeriod(2025, time.June)},
		{in: "2025-06-01", want: contribution.NewPeriod(2025, time.June)},
		{in: "2025-13", wantErr: true},
		{in: "june", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := contribution.ParsePeriod(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, contribution.ErrInvalidPeriod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriodFromParts_RejectsOutOfRangeMonth(t *testing.T) {
	_, err := contribution.PeriodFromParts(2025, 13)
	assert.ErrorIs(t, err, contribution.ErrInvalidPeriod)

	_, err = contribution.PeriodFromParts(2025, 0)
	assert.ErrorIs(t, err, contribution.ErrInvalidPeriod)

	p, err := contribution.PeriodFromParts(2025, 12)
	require.NoError(t, err)
	assert.Equal(t, time.December, p.Month)
}

func TestParsePopulation(t *testing.T) {
	pop, err := contribution.ParsePopulation("adherent")
	require.NoError(t, err)
	assert.Equal(t, contribution.PopulationAdherent, pop)

	_, err = contribution.ParsePopulation("staff")
	assert.ErrorIs(t, err, contribution.ErrUnknownPopulation)
	assert.True(t, contribution.IsClientError(err))
}
