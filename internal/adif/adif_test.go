package adif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `ARRL Logbook of the World Status Report
Generated at 2024-01-20 10:00:00
<PROGRAMID:4>LoTW
<APP_LoTW_LASTQSL:19>2024-01-20 09:59:00
<eoh>

<APP_LoTW_OWNCALL:6>RA4FGH
<CALL:6>UA1ABC
<BAND:3>20M
<MODE:2>CW
<QSO_DATE:8>20240115
<TIME_ON:4>1230
<QSL_RCVD:1>Y
<APP_LoTW_RXQSL:19>2024-01-18 11:22:33 // QSL record matched/modified at LoTW
<eor>

<CALL:5>DL1AA
<BAND:3>40m
<MODE:4>MFSK
<SUBMODE:3>FT4
<QSO_DATE:8>20240116
<TIME_ON:6>083015
<eor>

<APP_LoTW_EOF>
<CALL:5>K1XYZ
<eor>
`

func TestParseLiteralBlock(t *testing.T) {
	recs, discarded := Parse(`<CALL:6>UA1ABC<QSO_DATE:8>20240115<TIME_ON:4>1230<BAND:3>20M<MODE:2>CW<eor>`)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, discarded)
	assert.Equal(t, map[string]string{
		"CALL":     "UA1ABC",
		"QSO_DATE": "20240115",
		"TIME_ON":  "1230",
		"BAND":     "20M",
		"MODE":     "CW",
	}, recs[0].Map())

	names := []string{}
	for _, f := range recs[0].Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"CALL", "QSO_DATE", "TIME_ON", "BAND", "MODE"}, names)
}

func TestParseHeaderAndFooter(t *testing.T) {
	recs, _ := Parse(sampleReport)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, "UA1ABC", first.Get("CALL"))
	assert.Equal(t, "RA4FGH", first.Get("APP_LOTW_OWNCALL"))
	assert.Equal(t, "2024-01-18 11:22:33", first.Get("APP_LOTW_RXQSL"), "inline comment must be stripped")
	_, hasProgram := first.Lookup("PROGRAMID")
	assert.False(t, hasProgram, "header fields must not leak into records")

	second := recs[1]
	assert.Equal(t, "DL1AA", second.Get("call"))
	assert.Equal(t, "FT4", second.Get("SUBMODE"))
	assert.Equal(t, "083015", second.Get("TIME_ON"))
}

func TestParseLengthTruncation(t *testing.T) {
	recs, _ := Parse("<CALL:4>UA1ABC<GRIDSQUARE:6> KO85 \n<eor>")
	require.Len(t, recs, 1)
	assert.Equal(t, "UA1A", recs[0].Get("CALL"))
	assert.Equal(t, "KO85", recs[0].Get("GRIDSQUARE"))
}

func TestParseWithoutLengthAndTypeIndicator(t *testing.T) {
	recs, _ := Parse("<call>W1AW <qso_date:8:D>20240101<eor>")
	require.Len(t, recs, 1)
	assert.Equal(t, "W1AW", recs[0].Get("CALL"))
	assert.Equal(t, "20240101", recs[0].Get("QSO_DATE"))
}

func TestParseOmitsEmptyValues(t *testing.T) {
	recs, _ := Parse("<CALL:6>UA1ABC<STATE:0><CNTY:3>   <eor>")
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].Len())
}

func TestParseDiscardsBlocksWithoutCall(t *testing.T) {
	recs, discarded := Parse("<BAND:3>20M<eor><CALL:4>K1AB<eor>  \n <eor>")
	require.Len(t, recs, 1)
	assert.Equal(t, 1, discarded)
}

func TestParseMalformed(t *testing.T) {
	t.Run("Unterminated", func(t *testing.T) {
		recs, discarded := Parse("<eor><CALL:6 UA1ABC <BAND")
		assert.Empty(t, recs)
		assert.Equal(t, 1, discarded)
	})

	t.Run("NoData", func(t *testing.T) {
		recs, discarded := Parse("<html><body>Username/password incorrect</body></html>")
		assert.Empty(t, recs)
		assert.Equal(t, 0, discarded)
	})

	t.Run("Empty", func(t *testing.T) {
		recs, _ := Parse("")
		assert.Empty(t, recs)
	})
}

func TestScannerIsNotRestartable(t *testing.T) {
	s := NewScanner("<CALL:4>K1AB<eor><CALL:4>K2AB<eor>")
	require.True(t, s.Next())
	assert.Equal(t, "K1AB", s.Record().Get("CALL"))
	require.True(t, s.Next())
	assert.Equal(t, "K2AB", s.Record().Get("CALL"))
	assert.False(t, s.Next())
	assert.False(t, s.Next())
	assert.Equal(t, 0, s.Record().Len())
}

func TestNewRecordLastValueWins(t *testing.T) {
	r := NewRecord(Field{Name: "call", Value: "A"}, Field{Name: "CALL", Value: "B"})
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "B", r.Get("CALL"))
}
