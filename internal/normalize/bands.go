package normalize

import (
	"sort"
	"strings"
)

// Band is one entry of the band plan, frequencies in MHz.
type Band struct {
	Name string
	Min  float64
	Max  float64
}

var bandPlan = []Band{
	{Name: "2200M", Min: 0.1357, Max: 0.1378},
	{Name: "630M", Min: 0.472, Max: 0.479},
	{Name: "160M", Min: 1.8, Max: 2.0},
	{Name: "80M", Min: 3.5, Max: 4.0},
	{Name: "60M", Min: 5.06, Max: 5.45},
	{Name: "40M", Min: 7.0, Max: 7.3},
	{Name: "30M", Min: 10.1, Max: 10.15},
	{Name: "20M", Min: 14.0, Max: 14.35},
	{Name: "17M", Min: 18.068, Max: 18.168},
	{Name: "15M", Min: 21.0, Max: 21.45},
	{Name: "12M", Min: 24.89, Max: 24.99},
	{Name: "10M", Min: 28.0, Max: 29.7},
	{Name: "6M", Min: 50, Max: 54},
	{Name: "4M", Min: 70, Max: 71},
	{Name: "2M", Min: 144, Max: 148},
	{Name: "1.25M", Min: 222, Max: 225},
	{Name: "70CM", Min: 420, Max: 450},
	{Name: "33CM", Min: 902, Max: 928},
	{Name: "23CM", Min: 1240, Max: 1300},
	{Name: "13CM", Min: 2300, Max: 2450},
}

var (
	bandNames = func() map[string]struct{} {
		m := make(map[string]struct{}, len(bandPlan))
		for _, b := range bandPlan {
			m[b.Name] = struct{}{}
		}
		return m
	}()

	// longest names first so "160M" is tried before "60M"
	bandsBySpecificity = func() []string {
		names := make([]string, 0, len(bandPlan))
		for _, b := range bandPlan {
			names = append(names, b.Name)
		}
		sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
		return names
	}()
)

// Bands returns the band plan.
func Bands() []Band {
	return append([]Band(nil), bandPlan...)
}

// NormalizeBand upper-cases label and maps it onto the band plan: exact name,
// then the first band name contained in it. Unknown labels pass through and
// the second result is false.
func NormalizeBand(label string) (string, bool) {
	band := strings.ToUpper(strings.TrimSpace(label))
	if band == "" {
		return "", false
	}
	if _, ok := bandNames[band]; ok {
		return band, true
	}
	for _, name := range bandsBySpecificity {
		if strings.Contains(band, name) {
			return name, true
		}
	}
	return band, false
}

// BandForFrequency returns the band containing mhz, or "".
func BandForFrequency(mhz float64) string {
	for _, b := range bandPlan {
		if mhz >= b.Min && mhz <= b.Max {
			return b.Name
		}
	}
	return ""
}
