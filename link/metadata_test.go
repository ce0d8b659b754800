package link

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nsconnect/rolebridge/discord"
	"github.com/nsconnect/rolebridge/nationstates"
)

func TestMetadataFor(t *testing.T) {
	cases := []struct {
		name       string
		waMember   bool
		population int64
		founded    nationstates.Founded
		want       discord.MetadataRecords
	}{
		{
			name:       "known founding time",
			waMember:   true,
			population: 5_000_000,
			founded:    nationstates.FoundedAt(1104537600),
			want: discord.MetadataRecords{
				"date_founded": "2005-01-01T00:00:00.000Z",
				"population":   "5000000",
				"wa_member":    "true",
			},
		},
		{
			name:       "antiquity label passes through",
			waMember:   false,
			population: 0,
			founded:    nationstates.FoundedInAntiquity(),
			want: discord.MetadataRecords{
				"date_founded": "1970-01-01T00:00:00.000Z",
				"population":   "0",
				"wa_member":    "false",
			},
		},
		{
			name:       "arbitrary label passes through",
			population: 12_345_000_000,
			founded:    nationstates.Founded{Label: "0"},
			want: discord.MetadataRecords{
				"date_founded": "0",
				"population":   "12345000000",
				"wa_member":    "false",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MetadataFor(tc.waMember, tc.population, tc.founded))
		})
	}
}

func TestMetadataSchema(t *testing.T) {
	byKey := map[string]discord.MetadataField{}
	for _, f := range MetadataSchema {
		byKey[f.Key] = f
	}

	assert.Len(t, byKey, 3)
	assert.Equal(t, discord.DatetimeGreaterThanOrEqual, byKey[KeyDateFounded].Type)
	assert.Equal(t, discord.BooleanEqual, byKey[KeyWAMember].Type)
	assert.Equal(t, discord.IntegerGreaterThanOrEqual, byKey[KeyPopulation].Type)

	// Every key MetadataFor writes must be registered.
	for k := range MetadataFor(true, 1, nationstates.FoundedAt(1)) {
		assert.Contains(t, byKey, k)
	}
}
