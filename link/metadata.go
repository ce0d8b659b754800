package link

import (
	"strconv"
	"time"

	"github.com/nsconnect/rolebridge/discord"
	"github.com/nsconnect/rolebridge/nationstates"
)

// Metadata keys written to a user's role connection.
const (
	KeyDateFounded = "date_founded"
	KeyWAMember    = "wa_member"
	KeyPopulation  = "population"
)

// PlatformName is the platform shown on the user's Discord profile.
const PlatformName = "NationStates"

// foundedLayout is ISO-8601 with milliseconds in UTC, the form Discord parses
// for datetime metadata.
const foundedLayout = "2006-01-02T15:04:05.000Z"

// MetadataSchema is the application's role-connection metadata, registered with
// Discord at startup. Server admins build role requirements from these records.
var MetadataSchema = []discord.MetadataField{
	{
		Type:        discord.DatetimeGreaterThanOrEqual,
		Key:         KeyDateFounded,
		Name:        "Date Founded",
		Description: "Minimum number of days since founding",
	},
	{
		Type:        discord.BooleanEqual,
		Key:         KeyWAMember,
		Name:        "WA Member",
		Description: "Is a member of the World Assembly",
	},
	{
		Type:        discord.IntegerGreaterThanOrEqual,
		Key:         KeyPopulation,
		Name:        "Population",
		Description: "Minimum population",
	},
}

// MetadataFor encodes a nation's verified attributes as role-connection metadata.
// A founding label, such as the antiquity sentinel, is passed through unchanged.
func MetadataFor(waMember bool, population int64, founded nationstates.Founded) discord.MetadataRecords {
	date := founded.Label
	if founded.Known() {
		date = time.Unix(founded.Unix, 0).UTC().Format(foundedLayout)
	}
	return discord.MetadataRecords{
		KeyDateFounded: date,
		KeyPopulation:  strconv.FormatInt(population, 10),
		KeyWAMember:    strconv.FormatBool(waMember),
	}
}
