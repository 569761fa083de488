// Package cty resolves callsigns to DXCC entity, zones and continent from a
// cty.plist prefix database. Exact-callsign entries override prefixes; otherwise
// the longest matching prefix wins.
package cty

import (
	"fmt"
	"io"
	"os"
	"strings"

	"lotwsync/internal/models"

	"howett.net/plist"
)

// PrefixInfo mirrors one entry of cty.plist.
type PrefixInfo struct {
	Country       string  `plist:"Country"`
	Prefix        string  `plist:"Prefix"`
	ADIF          int     `plist:"ADIF"`
	CQZone        int     `plist:"CQZone"`
	ITUZone       int     `plist:"ITUZone"`
	Continent     string  `plist:"Continent"`
	Latitude      float64 `plist:"Latitude"`
	Longitude     float64 `plist:"Longitude"`
	GMTOffset     float64 `plist:"GMTOffset"`
	ExactCallsign bool    `plist:"ExactCallsign"`
}

// Database is read-only after load and safe for concurrent use.
type Database struct {
	exact    map[string]PrefixInfo
	prefixes map[string]PrefixInfo
	longest  int
}

var operatingSuffixes = []string{"/QRP", "/MM", "/AM", "/P", "/M"}

// Load reads a cty.plist file.
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cty plist: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes cty.plist content.
func LoadFromReader(r io.ReadSeeker) (*Database, error) {
	var raw map[string]PrefixInfo
	if err := plist.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode plist: %w", err)
	}
	db := &Database{
		exact:    make(map[string]PrefixInfo),
		prefixes: make(map[string]PrefixInfo, len(raw)),
	}
	for key, info := range raw {
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		if info.ExactCallsign {
			db.exact[key] = info
			continue
		}
		db.prefixes[key] = info
		if len(key) > db.longest {
			db.longest = len(key)
		}
	}
	return db, nil
}

// Len returns the number of entries loaded.
func (db *Database) Len() int {
	if db == nil {
		return 0
	}
	return len(db.exact) + len(db.prefixes)
}

// Resolve returns the country info for callsign, or false when no entry matches.
func (db *Database) Resolve(callsign string) (models.CountryInfo, bool) {
	info, ok := db.Lookup(callsign)
	if !ok {
		return models.CountryInfo{}, false
	}
	return models.CountryInfo{
		Country:       info.Country,
		PrimaryPrefix: info.Prefix,
		DXCC:          info.ADIF,
		CQZone:        info.CQZone,
		ITUZone:       info.ITUZone,
		Continent:     info.Continent,
	}, true
}

// Lookup returns the raw plist entry for callsign.
func (db *Database) Lookup(callsign string) (PrefixInfo, bool) {
	if db == nil {
		return PrefixInfo{}, false
	}
	cs := strings.ToUpper(strings.TrimSpace(callsign))
	if cs == "" {
		return PrefixInfo{}, false
	}
	if info, ok := db.exact[cs]; ok {
		return info, true
	}
	cs = baseCall(cs)
	if info, ok := db.exact[cs]; ok {
		return info, true
	}
	n := len(cs)
	if n > db.longest {
		n = db.longest
	}
	for ; n > 0; n-- {
		if info, ok := db.prefixes[cs[:n]]; ok {
			return info, true
		}
	}
	return PrefixInfo{}, false
}

// baseCall drops operating suffixes and picks the part of a slashed call that
// identifies the entity: a short portable prefix (DL/UA1ABC) wins over the
// home call, a lone area digit (UA1ABC/9) does not.
func baseCall(cs string) string {
	for _, suf := range operatingSuffixes {
		cs = strings.TrimSuffix(cs, suf)
	}
	parts := strings.Split(cs, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return cs
	}
	left, right := parts[0], parts[1]
	if len(right) == 1 {
		return left
	}
	if len(right) < len(left) {
		return right
	}
	return left
}
