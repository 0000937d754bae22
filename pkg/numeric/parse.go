// Package numeric is the single place where loosely typed numbers coming from
// the feed and the trading service are turned into decimals.
//
// The contract: a value that is absent, null, empty or unparsable never
// becomes zero by accident. Parse reports it with ok=false and Reconcile keeps
// the previously known value instead.
package numeric

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Text longer than maxDigits, or with an exponent outside ±maxExponent, is
// not a usable number.
const (
	maxDigits   = 64
	maxExponent = 32
)

func fromText(s string) (decimal.Decimal, bool) {
	if len(s) > maxDigits {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if exp := d.Exponent(); exp < -maxExponent || exp > maxExponent {
		return decimal.Zero, false
	}
	return d, true
}

// Parse reads a JSON number or a numeric JSON string. Strings may carry
// thousands separators ("32,150.50") as the upstream scrapers emit them.
func Parse(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, false
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Zero, false
		}
		return ParseString(str)
	}
	return fromText(s)
}

// ParseString parses user or scraper supplied text.
func ParseString(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	return fromText(s)
}

// Reconcile returns the parsed value of raw, or previous when raw does not
// hold a usable number.
func Reconcile(raw json.RawMessage, previous decimal.Decimal) decimal.Decimal {
	if d, ok := Parse(raw); ok {
		return d
	}
	return previous
}

const maxUnixMicros = float64(math.MaxInt64 / 2)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// ParseTime accepts RFC3339 and the naive ISO layouts the trading backend
// writes, or a unix timestamp in seconds, milliseconds or microseconds.
// Naive layouts are read as UTC.
func ParseTime(raw json.RawMessage, fallback time.Time) time.Time {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return fallback
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return fallback
		}
		return ParseTimeString(str, fallback)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return fromUnix(n, fallback)
}

// ParseTimeString is ParseTime for an already unquoted value.
func ParseTimeString(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnix(n, fallback)
	}
	return fallback
}

// fromUnix reads n as seconds, milliseconds or microseconds. Values that do
// not fit int64 microseconds give fallback.
func fromUnix(n float64, fallback time.Time) time.Time {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 || n >= maxUnixMicros {
		return fallback
	}
	if n > 1e15 {
		return time.UnixMicro(int64(n)).UTC()
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := math.Floor(n)
	return time.Unix(int64(sec), int64((n-sec)*float64(time.Second))).UTC()
}
