// Package normalize turns raw report records into typed QSOs.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"lotwsync/internal/adif"
	"lotwsync/internal/models"

	"github.com/rs/zerolog"
)

// Resolver maps a callsign to its country and zones.
type Resolver interface {
	Resolve(callsign string) (models.CountryInfo, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(callsign string) (models.CountryInfo, bool)

func (f ResolverFunc) Resolve(callsign string) (models.CountryInfo, bool) {
	return f(callsign)
}

type noResolver struct{}

func (noResolver) Resolve(string) (models.CountryInfo, bool) { return models.CountryInfo{}, false }

const (
	multiSubmodeMarker = "MFSK"
	dxccMaxLength      = 10
)

var numericPattern = regexp.MustCompile(`^[\d.]+$`)

// Normalizer converts raw records. It holds no per-run state.
type Normalizer struct {
	resolver Resolver
	logger   *zerolog.Logger
}

func New(resolver Resolver, logger *zerolog.Logger) *Normalizer {
	if resolver == nil {
		resolver = noResolver{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Normalizer{resolver: resolver, logger: logger}
}

// Complete reports whether rec carries the fields a QSO cannot do without.
func Complete(rec adif.Record) bool {
	for _, name := range []string{"CALL", "QSO_DATE", "TIME_ON"} {
		if rec.Get(name) == "" {
			return false
		}
	}
	return rec.Get("BAND") != "" || rec.Get("FREQ") != ""
}

// Normalize builds the canonical QSO for rec. accountCallsign becomes the
// station callsign of the record.
func (n *Normalizer) Normalize(rec adif.Record, accountCallsign string) models.QSO {
	callsign := strings.ToUpper(strings.TrimSpace(rec.Get("CALL")))
	q := models.QSO{
		Callsign:     callsign,
		MyCallsign:   strings.ToUpper(strings.TrimSpace(accountCallsign)),
		Mode:         Mode(rec),
		Frequency:    Frequency(rec.Get("FREQ")),
		Date:         Date(rec.Get("QSO_DATE")),
		Time:         TimeOn(rec.Get("TIME_ON")),
		PropMode:     rec.Get("PROP_MODE"),
		SatName:      rec.Get("SAT_NAME"),
		GridSquare:   rec.Get("GRIDSQUARE"),
		MyGridSquare: rec.Get("MY_GRIDSQUARE"),
		RSTSent:      rec.Get("RST_SENT"),
		RSTRcvd:      rec.Get("RST_RCVD"),
		State:        rec.Get("STATE"),
		Status:       models.QSLUnconfirmed,
	}
	if q.MyCallsign == "" {
		q.MyCallsign = strings.ToUpper(firstNonEmpty(rec.Get("STATION_CALLSIGN"), rec.Get("APP_LOTW_OWNCALL")))
	}

	band, known := NormalizeBand(rec.Get("BAND"))
	if band == "" {
		if mhz, err := strconv.ParseFloat(strings.TrimSpace(rec.Get("FREQ")), 64); err == nil {
			band = BandForFrequency(mhz)
			known = band != ""
		}
	}
	if !known && band != "" {
		n.logger.Debug().Str("call", callsign).Str("band", band).Msg("band not in band plan, kept as is")
	}
	q.Band = band

	if strings.EqualFold(rec.Get("QSL_RCVD"), "Y") {
		q.Status = models.QSLConfirmed
	}

	if raw := rec.Get("APP_LOTW_RXQSL"); raw != "" {
		q.ConfirmedAt = ConfirmedAt(raw)
		if q.ConfirmedAt == nil {
			n.logger.Debug().Str("call", callsign).Str("value", raw).Msg("unparseable confirmation timestamp")
		}
	}

	n.applyLocation(&q, rec)
	return q
}

// applyLocation fills country and zones, preferring what the record states
// over the prefix database.
func (n *Normalizer) applyLocation(q *models.QSO, rec adif.Record) {
	info, resolved := models.CountryInfo{}, false
	if q.Callsign != "" {
		info, resolved = n.resolver.Resolve(q.Callsign)
	}

	q.Country = rec.Get("COUNTRY")
	if q.Country == "" && resolved {
		q.Country = info.Country
	}

	q.DXCC = truncate(rec.Get("DXCC"), dxccMaxLength)
	if q.DXCC == "" && resolved && info.DXCC > 0 {
		q.DXCC = strconv.Itoa(info.DXCC)
	}

	q.CQZone = Zone(rec.Get("CQZ"))
	if q.CQZone == nil && resolved && info.CQZone > 0 {
		q.CQZone = intPtr(info.CQZone)
	}
	q.ITUZone = Zone(rec.Get("ITUZ"))
	if q.ITUZone == nil && resolved && info.ITUZone > 0 {
		q.ITUZone = intPtr(info.ITUZone)
	}

	q.Continent = truncate(strings.ToUpper(rec.Get("CONT")), 2)
	if q.Continent == "" && resolved {
		q.Continent = info.Continent
	}

	q.RURegion = RURegion(q.Country)
}

var ruRegions = []string{"ASIATIC RUSSIA", "EUROPEAN RUSSIA", "KALININGRAD"}

// RURegion returns the Russian entity named in country, or "".
func RURegion(country string) string {
	upper := strings.ToUpper(country)
	for _, region := range ruRegions {
		if strings.Contains(upper, region) {
			return region
		}
	}
	return ""
}

// Frequency parses a MHz value. Values below 10 are scaled by 1000 to the
// kHz-equivalent the store keeps; anything non-numeric is absent.
func Frequency(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || !numericPattern.MatchString(raw) {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	if f < 10 {
		f *= 1000
	}
	f = math.Round(f*1000) / 1000
	return &f
}

// TimeOn parses HHMM or HHMMSS. Any other shape is midnight.
func TimeOn(raw string) models.TimeOfDay {
	raw = strings.TrimSpace(raw)
	for len(raw) < 4 {
		raw = "0" + raw
	}
	if len(raw) != 4 && len(raw) != 6 {
		return 0
	}
	vals := [3]int{}
	for i := 0; i < len(raw)/2; i++ {
		v, err := strconv.Atoi(raw[i*2 : i*2+2])
		if err != nil {
			return 0
		}
		vals[i] = v
	}
	t, ok := models.NewTimeOfDay(vals[0], vals[1], vals[2])
	if !ok {
		return 0
	}
	return t
}

// Date parses YYYYMMDD. Anything else yields the zero time.
func Date(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if len(raw) != 8 {
		return time.Time{}
	}
	d, err := time.Parse("20060102", raw)
	if err != nil {
		return time.Time{}
	}
	return d
}

// Mode returns the upper-cased mode, replacing the generic MFSK marker with
// the submode when one is given.
func Mode(rec adif.Record) string {
	mode := strings.ToUpper(strings.TrimSpace(rec.Get("MODE")))
	if mode == multiSubmodeMarker {
		if sub := strings.ToUpper(strings.TrimSpace(rec.Get("SUBMODE"))); sub != "" {
			mode = sub
		}
	}
	return truncate(mode, models.ModeMaxLength)
}

// ConfirmedAt parses the freshness timestamp after dropping a trailing comment.
func ConfirmedAt(raw string) *time.Time {
	if i := strings.Index(raw, "//"); i >= 0 {
		raw = raw[:i]
	}
	t, err := time.Parse(models.ConfirmedAtLayout, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &t
}

// Zone parses a CQ or ITU zone number.
func Zone(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func intPtr(v int) *int {
	return &v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
