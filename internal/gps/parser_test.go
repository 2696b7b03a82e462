package gps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSMSReply(t *testing.T) {
	cases := []struct {
		name  string
		input string
		lat   float64
		lon   float64
		speed float64
	}{
		{"key value", "Lat:13.0827,Lon:80.2707,Speed:0km/h", 13.0827, 80.2707, 0},
		{"key value lowercase long", "lat=12.9716 long=77.5946 spd=42.5", 12.9716, 77.5946, 42.5},
		{"key value lng with heading", "Lat: -33.8688, Lng: 151.2093, Speed: 18, Course: 270", -33.8688, 151.2093, 18},
		{"maps q", "http://maps.google.com/maps?q=13.0827,80.2707", 13.0827, 80.2707, 0},
		{"maps ll", "Location https://maps.google.com/?ll=19.0760,72.8777&z=15", 19.0760, 72.8777, 0},
		{"maps at", "https://www.google.com/maps/@28.6139,77.2090,15z", 28.6139, 77.2090, 0},
		{"maps encoded comma", "https://maps.google.com/?q=loc:22.5726%2C88.3639", 22.5726, 88.3639, 0},
		{"bare csv", " 13.0827, 80.2707 ", 13.0827, 80.2707, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reading, err := ParseSMSReply(tc.input)
			require.NoError(t, err)
			assert.InDelta(t, tc.lat, reading.Latitude, 1e-9)
			assert.InDelta(t, tc.lon, reading.Longitude, 1e-9)
			assert.InDelta(t, tc.speed, reading.Speed, 1e-9)
			require.NotNil(t, reading.Accuracy)
			assert.Equal(t, DefaultAccuracyMeters, *reading.Accuracy)
			assert.False(t, reading.Timestamp.IsZero())
		})
	}
}

func TestParseSMSReplyHeading(t *testing.T) {
	reading, err := ParseSMSReply("Lat:10.5,Lon:76.2,Speed:30,Dir:145")
	require.NoError(t, err)
	assert.Equal(t, 145.0, reading.Heading)
}

func TestParseSMSReplyFailures(t *testing.T) {
	for _, input := range []string{"garbage", "", "Lat:13.08 only", "95.1,80.2", "Lat:13.0,Lon:200.5"} {
		_, err := ParseSMSReply(input)
		assert.ErrorIs(t, err, ErrUnparseable, input)
	}
}

func TestValidateReading(t *testing.T) {
	assert.NoError(t, ValidateReading(Reading{Latitude: 13, Longitude: 80, Speed: 10, Heading: 359}))
	assert.Error(t, ValidateReading(Reading{Latitude: 91, Longitude: 80}))
	assert.Error(t, ValidateReading(Reading{Latitude: 13, Longitude: 80, Speed: -1}))
	assert.Error(t, ValidateReading(Reading{Latitude: 13, Longitude: 80, Heading: 400}))
}
