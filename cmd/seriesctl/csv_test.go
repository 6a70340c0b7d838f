package main

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSeriesCSV(t *testing.T) {
	in := "date,value\n2024-01-31,1.5\n2024-02-29,\n2024-03-31, 2\n"
	points, err := readSeriesCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 1.5, points[0].Value)
	assert.True(t, math.IsNaN(points[1].Value))
	assert.Equal(t, 2.0, points[2].Value)
}

func TestReadSeriesCSV_Errors(t *testing.T) {
	_, err := readSeriesCSV(strings.NewReader("2024-01-31,1\nlater,2\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = readSeriesCSV(strings.NewReader("2024-01-31,abc\n"))
	assert.Error(t, err)

	_, err = readSeriesCSV(strings.NewReader("2024-01-31\n"))
	assert.Error(t, err)
}

func TestWriteSeriesCSV_RoundTrip(t *testing.T) {
	points, err := readSeriesCSV(strings.NewReader("2024-01-31,1.25\n2024-02-29,3\n"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeSeriesCSV(&buf, points))
	assert.Equal(t, "date,value\n2024-01-31,1.25\n2024-02-29,3\n", buf.String())
}
