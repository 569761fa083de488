package normalize

import (
	"testing"
	"time"

	"lotwsync/internal/adif"
	"lotwsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(kv ...string) adif.Record {
	fields := make([]adif.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, adif.Field{Name: kv[i], Value: kv[i+1]})
	}
	return adif.NewRecord(fields...)
}

func TestNormalizeLiteralExample(t *testing.T) {
	recs, _ := adif.Parse("<CALL:6>UA1ABC<QSO_DATE:8>20240115<TIME_ON:4>1230<BAND:3>20M<MODE:2>CW<eor>")
	require.Len(t, recs, 1)

	q := New(nil, nil).Normalize(recs[0], "r1abc")

	assert.Equal(t, "2024-01-15", q.DateString())
	assert.Equal(t, "12:30:00", q.Time.String())
	assert.Equal(t, "20M", q.Band)
	assert.Equal(t, "CW", q.Mode)
	assert.Equal(t, "UA1ABC", q.Callsign)
	assert.Equal(t, "R1ABC", q.MyCallsign)
	assert.Equal(t, models.QSLUnconfirmed, q.Status)
	assert.Nil(t, q.ConfirmedAt)
	assert.True(t, q.Matchable())
}

func TestFrequency(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"7.0305", ptr(7030.5)},
		{"14.074", ptr(14.074)},
		{"144.300", ptr(144.3)},
		{"3.5734567", ptr(3573.457)},
		{"", nil},
		{"abc", nil},
		{"14,074", nil},
		{"-7.0", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Frequency(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestNormalizeBand(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		known bool
	}{
		{"20m", "20M", true},
		{"70cm", "70CM", true},
		{"1.25m", "1.25M", true},
		{"BAND160M", "160M", true},
		{"12M ", "12M", true},
		{"11M", "11M", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, known := NormalizeBand(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.known, known, tt.in)
	}
}

func TestBandDerivedFromFrequency(t *testing.T) {
	q := New(nil, nil).Normalize(record(
		"CALL", "DL1AA", "QSO_DATE", "20240301", "TIME_ON", "0815", "FREQ", "7.074", "MODE", "FT8",
	), "R1ABC")
	assert.Equal(t, "40M", q.Band)
	assert.Equal(t, "", BandForFrequency(11.0))
}

func TestTimeOn(t *testing.T) {
	tests := map[string]string{
		"1230":   "12:30:00",
		"123045": "12:30:45",
		"930":    "09:30:00",
		"5":      "00:05:00",
		"12345":  "00:00:00",
		"2561":   "00:00:00",
		"12ab":   "00:00:00",
		"":       "00:00:00",
	}
	for in, want := range tests {
		assert.Equal(t, want, TimeOn(in).String(), in)
	}
}

func TestDate(t *testing.T) {
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), Date("20240115"))
	assert.True(t, Date("2024011").IsZero())
	assert.True(t, Date("20241301").IsZero())
	assert.True(t, Date("2024-01-15").IsZero())
}

func TestMode(t *testing.T) {
	assert.Equal(t, "FT4", Mode(record("MODE", "mfsk", "SUBMODE", "ft4")))
	assert.Equal(t, "MFSK", Mode(record("MODE", "MFSK")))
	assert.Equal(t, "SSB", Mode(record("MODE", "ssb", "SUBMODE", "USB")))
	assert.Len(t, Mode(record("MODE", "ABCDEFGHIJKLMNOPQRSTUVWXYZ")), models.ModeMaxLength)
}

func TestConfirmedAt(t *testing.T) {
	got := ConfirmedAt("2024-02-01 10:11:12 // QSL received")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 2, 1, 10, 11, 12, 0, time.UTC), *got)

	assert.Nil(t, ConfirmedAt("2024-02-01"))
	assert.Nil(t, ConfirmedAt("garbage"))
}

func TestNormalizeConfirmationAndLocation(t *testing.T) {
	resolver := ResolverFunc(func(call string) (models.CountryInfo, bool) {
		if call != "UA9XYZ" {
			return models.CountryInfo{}, false
		}
		return models.CountryInfo{Country: "Asiatic Russia", DXCC: 15, CQZone: 17, ITUZone: 30, Continent: "AS"}, true
	})
	n := New(resolver, nil)

	q := n.Normalize(record(
		"CALL", "ua9xyz", "QSO_DATE", "20240115", "TIME_ON", "123000", "BAND", "20M", "MODE", "CW",
		"QSL_RCVD", "Y", "APP_LOTW_RXQSL", "2024-02-01 10:11:12", "CQZ", "18",
	), "R1ABC")

	assert.Equal(t, models.QSLConfirmed, q.Status)
	require.NotNil(t, q.ConfirmedAt)
	assert.Equal(t, "Asiatic Russia", q.Country)
	assert.Equal(t, "15", q.DXCC)
	require.NotNil(t, q.CQZone)
	assert.Equal(t, 18, *q.CQZone)
	require.NotNil(t, q.ITUZone)
	assert.Equal(t, 30, *q.ITUZone)
	assert.Equal(t, "AS", q.Continent)
	assert.Equal(t, "ASIATIC RUSSIA", q.RURegion)

	q = n.Normalize(record(
		"CALL", "UA9XYZ", "QSO_DATE", "20240115", "TIME_ON", "1230", "BAND", "20M", "MODE", "CW",
		"COUNTRY", "RUSSIA", "DXCC", "054", "CONT", "eu",
	), "R1ABC")
	assert.Equal(t, "RUSSIA", q.Country)
	assert.Equal(t, "054", q.DXCC)
	assert.Equal(t, "EU", q.Continent)
	assert.Empty(t, q.RURegion)
}

func TestRURegion(t *testing.T) {
	tests := []struct {
		country, want string
	}{
		{"Asiatic Russia", "ASIATIC RUSSIA"},
		{"EUROPEAN RUSSIA", "EUROPEAN RUSSIA"},
		{"Kaliningrad", "KALININGRAD"},
		{"RUSSIA", ""},
		{"Germany", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RURegion(tt.country), tt.country)
	}
}

func TestAllSkipsIncompleteRecords(t *testing.T) {
	body := "<CALL:6>UA1ABC<QSO_DATE:8>20240115<TIME_ON:4>1230<BAND:3>20M<MODE:2>CW<eor>" +
		"<CALL:5>DL1AA<QSO_DATE:8>20240115<BAND:3>20M<MODE:2>CW<eor>" +
		"<CALL:5>DL2BB<QSO_DATE:8>2024011<TIME_ON:4>1230<BAND:3>20M<MODE:2>CW<eor>" +
		"<QSO_DATE:8>20240115<TIME_ON:4>1230<eor>"

	b := New(nil, nil).All(adif.NewScanner(body), "R1ABC")

	require.Len(t, b.QSOs, 1)
	assert.Equal(t, "UA1ABC", b.QSOs[0].Callsign)
	assert.Equal(t, 3, b.Fetched)
	assert.Equal(t, 2, b.Skipped)
	assert.Equal(t, 1, b.Discarded)
}

func ptr(f float64) *float64 { return &f }
