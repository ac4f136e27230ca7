package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInputIDFallback(t *testing.T) {
	tests := []struct {
		name string
		row  Raw
		want string
	}{
		{"auxiliaire wins", Raw{ColAuxiliaire: "AUX1", ColCodeTiers: "T1", ColIndex: "0"}, "AUX1"},
		{"code tiers second", Raw{ColCodeTiers: "T1", ColIndex: "0"}, "T1"},
		{"index last", Raw{ColIndex: "42"}, "42"},
		{"blank auxiliaire skipped", Raw{ColAuxiliaire: "  ", ColCodeTiers: "T9"}, "T9"},
		{"numeric id rendered clean", Raw{ColAuxiliaire: float64(4012)}, "4012"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.InputID())
		})
	}
}

func TestStringRendering(t *testing.T) {
	r := Raw{
		"f_int":  float64(75001),
		"f_frac": 1.5,
		"nan":    math.NaN(),
		"ts":     time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
		"nil":    nil,
	}
	assert.Equal(t, "75001", r.String("f_int"))
	assert.Equal(t, "1.5", r.String("f_frac"))
	assert.Equal(t, "", r.String("nan"))
	assert.Equal(t, "2023-04-01T00:00:00Z", r.String("ts"))
	assert.Equal(t, "", r.String("nil"))
	assert.Equal(t, "", r.String("absent"))
}

func TestSanitize(t *testing.T) {
	r := Raw{
		"date": time.Date(2022, 12, 31, 10, 30, 0, 0, time.UTC),
		"nan":  math.NaN(),
		"inf":  math.Inf(1),
		"ok":   "value",
		"n":    float64(3),
	}
	s := r.Sanitize()

	assert.Equal(t, "2022-12-31T10:30:00Z", s["date"])
	assert.Nil(t, s["nan"])
	assert.Nil(t, s["inf"])
	assert.Equal(t, "value", s["ok"])
	assert.Equal(t, float64(3), s["n"])
	// Original row untouched.
	assert.IsType(t, time.Time{}, r["date"])
}

func TestRegionPrefix(t *testing.T) {
	assert.Equal(t, "75", CleanedSupplier{CleanPostal: "75001"}.RegionPrefix())
	assert.Equal(t, "", CleanedSupplier{}.RegionPrefix())
	assert.Equal(t, "", CleanedSupplier{CleanPostal: "7"}.RegionPrefix())
}
