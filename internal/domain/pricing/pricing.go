// Package pricing derives booking totals and deposits from a listing's rate
// model. Every function here is total: bad input yields 0, never a panic.
package pricing

import (
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Unspecified is the value stored when a slot has no start or end time.
const Unspecified = "Not specified"

// RateModel selects how a listing is charged.
type RateModel string

const (
	RateHourly RateModel = "hourly" // personal and local services
	RateSale   RateModel = "sale"   // material goods sold once
	RateRental RateModel = "rental" // material goods rented per hour
	RateTicket RateModel = "ticket" // events with a fixed entry price
)

// Listing carries everything the calculator needs about a booking.
type Listing struct {
	Model             RateModel
	PricePerHour      float64
	SalePrice         float64
	RentalRatePerHour float64
	TicketPrice       float64
	DepositPercentage float64
	Start             string // HH:MM
	End               string // HH:MM
}

var referenceDay = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the logger used for data-integrity warnings.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		log = l
	}
}

// HoursBetween parses two HH:MM values against a fixed day and returns the
// elapsed hours rounded to 2 decimals.
func HoursBetween(start, end string) float64 {
	s, ok := parseClock(start)
	if !ok {
		return 0
	}
	e, ok := parseClock(end)
	if !ok {
		return 0
	}
	hours := round2(e.Sub(s).Hours())
	return clamp(hours, "hours_between", logrus.Fields{"start": start, "end": end})
}

// TotalPrice is the full price of the booking.
func TotalPrice(l Listing) float64 {
	var total float64
	switch l.Model {
	case RateSale:
		total = l.SalePrice
	case RateRental:
		total = HoursBetween(l.Start, l.End) * l.RentalRatePerHour
	case RateTicket:
		total = l.TicketPrice
	default:
		total = HoursBetween(l.Start, l.End) * l.PricePerHour
	}
	return clamp(round2(total), "total_price", logrus.Fields{"model": l.Model})
}

// AdvancePayment is the part of total due upfront. Sale goods are paid in
// full.
func AdvancePayment(l Listing, total float64) float64 {
	total = clamp(total, "advance_total", logrus.Fields{"model": l.Model})
	if l.Model == RateSale {
		return total
	}
	pct := l.DepositPercentage
	if math.IsNaN(pct) || pct < 0 || pct > 100 {
		log.WithFields(logrus.Fields{"deposit_percentage": pct}).Warn("pricing: deposit percentage out of range, clamping")
		pct = math.Max(0, math.Min(100, pct))
		if math.IsNaN(pct) {
			pct = 0
		}
	}
	return clamp(round2(total*pct/100), "advance_payment", logrus.Fields{"model": l.Model})
}

func parseClock(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, Unspecified) {
		return time.Time{}, false
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		// also accept HH:MM:SS as stored by postgres time columns
		t, err = time.Parse("15:04:05", v)
		if err != nil {
			log.WithFields(logrus.Fields{"value": v}).Warn("pricing: malformed time, treating as zero duration")
			return time.Time{}, false
		}
	}
	return referenceDay.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second), true
}

func clamp(v float64, what string, fields logrus.Fields) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		log.WithFields(fields).WithField("value", v).Warnf("pricing: %s produced invalid value, clamping to 0", what)
		return 0
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NonNegative floors v at 0 and rounds to 2 decimals.
func NonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return round2(v)
}
