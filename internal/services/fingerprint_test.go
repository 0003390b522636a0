package services

import (
	"strings"
	"testing"

	"github.com/sitephoto/server/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	t.Run("matches known digest", func(t *testing.T) {
		fp := Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"floor": "1", "room": "A"})
		assert.Equal(t, "231cde69d8d25278ce483378e2a034ccc9f8730e4b92dd8b41048c649192405a", fp)
	})

	t.Run("empty fields", func(t *testing.T) {
		fp := Fingerprint("P1", "Columns > Floor1", "Rebar", nil)
		assert.Equal(t, "580ff2217fb94446637ba471d0d974b5041ab5d25e1704e9eac9106ead72b201", fp)
		assert.Equal(t, fp, Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{}))
	})

	t.Run("is lowercase hex of 64 chars", func(t *testing.T) {
		fp := Fingerprint("P1", "Beams", "", map[string]string{"x": "y"})
		assert.Len(t, fp, 64)
		assert.Equal(t, strings.ToLower(fp), fp)
		assert.True(t, IsValidFingerprint(fp))
	})

	t.Run("ignores value case and surrounding whitespace", func(t *testing.T) {
		a := Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"room": "a"})
		b := Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"room": " A "})
		assert.Equal(t, a, b)
	})

	t.Run("ignores key order", func(t *testing.T) {
		fields := map[string]string{}
		reversed := map[string]string{}
		keys := []string{"a", "b", "c", "d", "e", "f", "g"}
		for i, k := range keys {
			fields[k] = k + "v"
			reversed[keys[len(keys)-1-i]] = keys[len(keys)-1-i] + "v"
		}
		for i := 0; i < 20; i++ {
			assert.Equal(t, Fingerprint("P1", "C", "T", fields), Fingerprint("P1", "C", "T", reversed))
		}
	})

	t.Run("differs when any key part differs", func(t *testing.T) {
		base := Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"floor": "1"})
		assert.NotEqual(t, base, Fingerprint("P2", "Columns > Floor1", "Rebar", map[string]string{"floor": "1"}))
		assert.NotEqual(t, base, Fingerprint("P1", "Columns > Floor2", "Rebar", map[string]string{"floor": "1"}))
		assert.NotEqual(t, base, Fingerprint("P1", "Columns > Floor1", "Formwork", map[string]string{"floor": "1"}))
		assert.NotEqual(t, base, Fingerprint("P1", "Columns > Floor1", "Rebar", map[string]string{"floor": "2"}))
	})

	t.Run("record fingerprint uses legacy category string", func(t *testing.T) {
		record := &models.PhotoRecord{
			ProjectID:     "P1",
			Category:      models.Category{Main: "Columns", Sub: "Floor1"},
			Topic:         "Rebar",
			DynamicFields: map[string]string{"floor": "1", "room": "A"},
		}
		assert.Equal(t, Fingerprint("P1", "Columns > Floor1", "Rebar", record.DynamicFields), RecordFingerprint(record))
	})
}

func TestIsValidFingerprint(t *testing.T) {
	assert.False(t, IsValidFingerprint(""))
	assert.False(t, IsValidFingerprint("abc"))
	assert.False(t, IsValidFingerprint(strings.Repeat("A", 64)))
	assert.True(t, IsValidFingerprint(strings.Repeat("a", 64)))
}
