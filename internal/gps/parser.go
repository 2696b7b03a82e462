package gps

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const number = `(-?\d+(?:\.\d+)?)`

var (
	keyValuePattern  = regexp.MustCompile(`(?i)\b(latitude|lat|longitude|long|lon|lng|speed|spd|heading|course|dir)\s*[:=]\s*` + number)
	mapsQueryPattern = regexp.MustCompile(`(?i)[?&](?:q|ll|query)=(?:loc:)?` + number + `(?:,|%2C)\s*` + number)
	mapsAtPattern    = regexp.MustCompile(`@` + number + `,` + number)
	bareCSVPattern   = regexp.MustCompile(`^\s*` + number + `\s*,\s*` + number + `\s*$`)
)

// ParseSMSReply extracts a reading from a tracker reply. Grammars are tried in order: key-value
// pairs, a maps link, then a bare "lat,lon" pair. It returns ErrUnparseable when none match.
func ParseSMSReply(text string) (Reading, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reading{}, ErrUnparseable
	}

	parsers := []func(string) (Reading, bool){parseKeyValue, parseMapsLink, parseBareCSV}
	for _, parse := range parsers {
		reading, ok := parse(text)
		if !ok {
			continue
		}
		if err := validateCoordinates(reading.Latitude, reading.Longitude); err != nil {
			return Reading{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		accuracy := DefaultAccuracyMeters
		reading.Accuracy = &accuracy
		reading.Timestamp = time.Now().UTC()
		return reading, nil
	}

	return Reading{}, ErrUnparseable
}

func parseKeyValue(text string) (Reading, bool) {
	matches := keyValuePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return Reading{}, false
	}

	var reading Reading
	var hasLat, hasLon bool
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "latitude", "lat":
			reading.Latitude, hasLat = value, true
		case "longitude", "long", "lon", "lng":
			reading.Longitude, hasLon = value, true
		case "speed", "spd":
			reading.Speed = value
		case "heading", "course", "dir":
			reading.Heading = value
		}
	}
	return reading, hasLat && hasLon
}

func parseMapsLink(text string) (Reading, bool) {
	m := mapsQueryPattern.FindStringSubmatch(text)
	if m == nil {
		m = mapsAtPattern.FindStringSubmatch(text)
	}
	if m == nil {
		return Reading{}, false
	}
	return pairReading(m[1], m[2])
}

func parseBareCSV(text string) (Reading, bool) {
	m := bareCSVPattern.FindStringSubmatch(text)
	if m == nil {
		return Reading{}, false
	}
	return pairReading(m[1], m[2])
}

func pairReading(latRaw, lonRaw string) (Reading, bool) {
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return Reading{}, false
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return Reading{}, false
	}
	return Reading{Latitude: lat, Longitude: lon}, true
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

// ValidateReading checks coordinate ranges for readings entered by hand.
func ValidateReading(r Reading) error {
	if err := validateCoordinates(r.Latitude, r.Longitude); err != nil {
		return err
	}
	if r.Speed < 0 {
		return fmt.Errorf("speed must not be negative")
	}
	if r.Heading < 0 || r.Heading > 360 {
		return fmt.Errorf("heading %v out of range", r.Heading)
	}
	return nil
}
