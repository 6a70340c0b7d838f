package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFrequency(t *testing.T) {
	tests := []struct {
		in   string
		want Frequency
	}{
		{in: "D", want: FreqDaily},
		{in: "daily", want: FreqDaily},
		{in: " d ", want: FreqDaily},
		{in: "q", want: FreqQuarterly},
		{in: "Quarterly", want: FreqQuarterly},
		{in: "M", want: FreqMonthly},
		{in: "W", want: FreqMonthly},
		{in: "", want: FreqMonthly},
		{in: "xyz", want: FreqMonthly},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFrequency(tt.in))
		})
	}
}
