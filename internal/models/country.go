package models

// CountryInfo is what the prefix database knows about a callsign's origin.
type CountryInfo struct {
	Country       string
	PrimaryPrefix string
	DXCC          int
	CQZone        int
	ITUZone       int
	Continent     string
}
