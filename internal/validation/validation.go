package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/waterlogging-dashboard/internal/models"
)

// ErrCityEmpty is returned when a city name is empty or whitespace-only after trim.
var ErrCityEmpty = errors.New("city name is required")

// ErrCityTooShort is returned when a city name is below the minimum length.
var ErrCityTooShort = errors.New("city name too short")

// ErrCityTooLong is returned when a city name exceeds the maximum length.
var ErrCityTooLong = errors.New("city name too long")

// ErrCityInvalidChars is returned when a city name contains disallowed characters.
var ErrCityInvalidChars = errors.New("city name contains invalid characters")

var (
	ErrCoordinatesMissing    = errors.New("lat and lon are required")
	ErrCoordinatesInvalid    = errors.New("lat and lon must be numbers")
	ErrCoordinatesOutOfRange = errors.New("coordinates out of range")
)

// ValidateCityName trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to letters (Unicode), digits, space, comma, hyphen, apostrophe and period.
// Returns the trimmed string or an error suitable for 400 INVALID_CITY responses.
func ValidateCityName(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrCityEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

// ValidateCoordinates parses lat/lon query values. Both must be present, finite,
// and within [-90, 90] and [-180, 180].
func ValidateCoordinates(lat, lon string) (models.Coordinates, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" || lon == "" {
		return models.Coordinates{}, ErrCoordinatesMissing
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: lat %q", ErrCoordinatesInvalid, lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("%w: lon %q", ErrCoordinatesInvalid, lon)
	}
	c := models.Coordinates{Latitude: la, Longitude: lo}
	if err := CheckRange(c); err != nil {
		return models.Coordinates{}, err
	}
	return c, nil
}

// CheckRange reports whether c is a finite, in-range pair.
func CheckRange(c models.Coordinates) error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) || math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return fmt.Errorf("%w: not finite", ErrCoordinatesInvalid)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: lat %v", ErrCoordinatesOutOfRange, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: lon %v", ErrCoordinatesOutOfRange, c.Longitude)
	}
	return nil
}
