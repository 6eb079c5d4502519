package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTariff(t *testing.T) {
	cases := map[string]TariffState{
		"paid":     TariffPaid,
		" Paid ":   TariffPaid,
		"trial":    TariffTrial,
		"not_paid": TariffNotPaid,
		"notpaid":  TariffNotPaid,
		"delay":    TariffDelay,
		"free":     TariffFree,
	}
	for in, want := range cases {
		got, ok := ParseTariff(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	got, ok := ParseTariff("gold")
	assert.False(t, ok)
	assert.Equal(t, TariffFree, got)
}
