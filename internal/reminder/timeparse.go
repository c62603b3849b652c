package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnrecognizedFormat means no grammar rule matched the phrase.
	ErrUnrecognizedFormat = errors.New("unrecognized time format")
	// ErrMalformedValue means a rule matched but a numeric or calendar
	// component was out of range.
	ErrMalformedValue = errors.New("malformed time value")
)

// Parser turns natural-language time phrases into absolute instants.
//
// Wall-clock phrases ("tomorrow at 15:00", "25.12.2024 at 10:00") are
// interpreted in Loc, the single fixed display/input zone of the bot.
// Results are always returned in UTC. Parse has no side effects; given the
// same (text, now) it always returns the same instant.
//
// Grammar, first match wins:
//
//	"in N <minutes|hours|days|weeks|months>"  relative offset from now
//	"tomorrow at HH:MM"
//	"today at HH:MM"                          no rollover if already past
//	"HH:MM"                                   today, or tomorrow if past
//	"DD.MM.YYYY at HH:MM"
type Parser struct {
	Loc *time.Location
}

// NewParser builds a parser for a fixed UTC offset.
func NewParser(offset time.Duration) *Parser {
	secs := int(offset / time.Second)
	name := fmt.Sprintf("UTC%+dh", secs/3600)
	if secs == 0 {
		name = "UTC"
	}
	return &Parser{Loc: time.FixedZone(name, secs)}
}

func (p *Parser) loc() *time.Location {
	if p.Loc == nil {
		return time.UTC
	}
	return p.Loc
}

// Parse converts text into an absolute instant relative to now.
func (p *Parser) Parse(text string, now time.Time) (time.Time, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	local := now.In(p.loc())

	switch {
	case strings.HasPrefix(text, "in "):
		return p.parseRelative(text, local)
	case strings.Contains(text, "tomorrow"):
		return p.parseTomorrow(text, local)
	case strings.Contains(text, "today") && strings.Contains(text, " at "):
		return p.parseToday(text, local)
	case len(text) <= 5 && strings.Contains(text, ":"):
		return p.parseBareClock(text, local)
	case strings.Contains(text, ".") && strings.Contains(text, " at "):
		return p.parseFullDate(text)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, text)
	}
}

func (p *Parser) parseRelative(text string, local time.Time) (time.Time, error) {
	n, err := digitsValue(text)
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case strings.Contains(text, "minute"):
		return local.Add(time.Duration(n) * time.Minute).UTC(), nil
	case strings.Contains(text, "hour"):
		return local.Add(time.Duration(n) * time.Hour).UTC(), nil
	case strings.Contains(text, "day"):
		return local.AddDate(0, 0, n).UTC(), nil
	case strings.Contains(text, "week"):
		return local.AddDate(0, 0, 7*n).UTC(), nil
	case strings.Contains(text, "month"):
		return addMonths(local, n).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown unit in %q", ErrUnrecognizedFormat, text)
	}
}

func (p *Parser) parseTomorrow(text string, local time.Time) (time.Time, error) {
	hh, mm, err := clockAfterAt(text)
	if err != nil {
		return time.Time{}, err
	}
	d := local.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, p.loc()).UTC(), nil
}

// parseToday deliberately keeps the phrase's literal meaning: "today at 9:00"
// asked at 10:00 yields an instant in the past. The caller decides whether
// past instants are acceptable.
func (p *Parser) parseToday(text string, local time.Time) (time.Time, error) {
	hh, mm, err := clockAfterAt(text)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, p.loc()).UTC(), nil
}

func (p *Parser) parseBareClock(text string, local time.Time) (time.Time, error) {
	hh, mm, err := parseClock(text)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, p.loc())
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at.UTC(), nil
}

func (p *Parser) parseFullDate(text string) (time.Time, error) {
	datePart, timePart, ok := strings.Cut(text, " at ")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognizedFormat, text)
	}
	fields := strings.Split(strings.TrimSpace(datePart), ".")
	if len(fields) != 3 {
		return time.Time{}, fmt.Errorf("%w: date %q, expected DD.MM.YYYY", ErrMalformedValue, datePart)
	}
	day, err1 := strconv.Atoi(strings.TrimSpace(fields[0]))
	month, err2 := strconv.Atoi(strings.TrimSpace(fields[1]))
	year, err3 := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedValue, datePart)
	}
	if month < 1 || month > 12 || year < 1 || year > 9999 {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformedValue, datePart)
	}
	if day < 1 || day > daysIn(year, time.Month(month)) {
		return time.Time{}, fmt.Errorf("%w: day out of range in %q", ErrMalformedValue, datePart)
	}
	hh, mm, err := parseClock(timePart)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, time.Month(month), day, hh, mm, 0, 0, p.loc()).UTC(), nil
}

// digitsValue collects every digit character of text into one base-10 value.
// Surrounding words are tolerated but not validated ("in about 15 min" == 15).
func digitsValue(text string) (int, error) {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("%w: no number in %q", ErrMalformedValue, text)
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0, fmt.Errorf("%w: number in %q", ErrMalformedValue, text)
	}
	return n, nil
}

// clockAfterAt extracts "HH:MM" following the last " at " marker.
func clockAfterAt(text string) (int, int, error) {
	i := strings.LastIndex(text, " at ")
	if i < 0 {
		return 0, 0, fmt.Errorf("%w: missing \"at HH:MM\" in %q", ErrUnrecognizedFormat, text)
	}
	return parseClock(text[i+len(" at "):])
}

func parseClock(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q, expected HH:MM", ErrMalformedValue, s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrMalformedValue, s)
	}
	m, err := strconv.Atoi(strings.TrimSpace(ms))
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrMalformedValue, s)
	}
	return h, m, nil
}
