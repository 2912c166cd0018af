package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ReferenceDate is a calendar date without time or zone. It never goes
// through time.Time so no conversion can shift the day.
type ReferenceDate struct {
	Year  int
	Month int
	Day   int
}

var (
	isoDatePattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	brDatePattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// ParseReferenceDate accepts "DD/MM/YYYY" and "YYYY-MM-DD". A trailing time
// part on the ISO form ("2025-05-26T00:00:00Z") is dropped, not converted.
func ParseReferenceDate(raw string) (ReferenceDate, error) {
	value := strings.TrimSpace(raw)
	if idx := strings.IndexAny(value, "T "); idx == 10 {
		value = value[:idx]
	}

	var y, m, d string
	if parts := isoDatePattern.FindStringSubmatch(value); parts != nil {
		y, m, d = parts[1], parts[2], parts[3]
	} else if parts := brDatePattern.FindStringSubmatch(value); parts != nil {
		d, m, y = parts[1], parts[2], parts[3]
	} else {
		return ReferenceDate{}, WrapError(ErrInvalidInput, "parse reference date", fmt.Errorf("unsupported format %q", raw))
	}

	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	date := ReferenceDate{Year: year, Month: month, Day: day}
	if !date.Valid() {
		return ReferenceDate{}, WrapError(ErrInvalidInput, "parse reference date", fmt.Errorf("invalid calendar date %q", raw))
	}
	return date, nil
}

func (d ReferenceDate) Valid() bool {
	if d.Year < 1 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	return d.Day <= daysIn(d.Month, d.Year)
}

func daysIn(month, year int) int {
	switch month {
	case 2:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

func (d ReferenceDate) IsZero() bool {
	return d == ReferenceDate{}
}

// ISO renders the stored form, YYYY-MM-DD.
func (d ReferenceDate) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Display renders the user-facing form, DD/MM/YYYY.
func (d ReferenceDate) Display() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, d.Month, d.Year)
}

func (d ReferenceDate) String() string {
	return d.ISO()
}

func (d ReferenceDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.ISO())
}

func (d *ReferenceDate) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode reference date: %w", err)
	}
	if raw == nil || strings.TrimSpace(*raw) == "" {
		*d = ReferenceDate{}
		return nil
	}
	parsed, err := ParseReferenceDate(*raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
