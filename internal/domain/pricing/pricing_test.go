package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHoursBetween(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		want       float64
	}{
		{"full day", "09:00", "17:00", 8},
		{"minutes", "09:00", "10:20", 1.33},
		{"unspecified start", "Not specified", "17:00", 0},
		{"unspecified end", "09:00", "Not specified", 0},
		{"malformed", "9am", "17:00", 0},
		{"empty", "", "", 0},
		{"reversed is clamped", "17:00", "09:00", 0},
		{"seconds format", "09:00:00", "12:30:00", 3.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HoursBetween(tc.start, tc.end))
		})
	}
}

func TestTotalAndAdvance_HourlyScenario(t *testing.T) {
	l := Listing{Model: RateHourly, PricePerHour: 20, DepositPercentage: 30, Start: "09:00", End: "12:00"}

	total := TotalPrice(l)
	assert.Equal(t, 60.0, total)
	assert.Equal(t, 18.0, AdvancePayment(l, total))
}

func TestAdvance_SaleEqualsTotal(t *testing.T) {
	l := Listing{Model: RateSale, SalePrice: 250, DepositPercentage: 10, Start: "Not specified", End: "Not specified"}

	total := TotalPrice(l)
	assert.Equal(t, 250.0, total)
	assert.Equal(t, total, AdvancePayment(l, total))
}

func TestRentalUsesRentalRate(t *testing.T) {
	l := Listing{Model: RateRental, RentalRatePerHour: 12.5, PricePerHour: 999, DepositPercentage: 50, Start: "10:00", End: "14:00"}

	total := TotalPrice(l)
	assert.Equal(t, 50.0, total)
	assert.Equal(t, 25.0, AdvancePayment(l, total))
}

func TestPure(t *testing.T) {
	l := Listing{Model: RateHourly, PricePerHour: 33.33, DepositPercentage: 15, Start: "08:15", End: "11:45"}
	assert.Equal(t, TotalPrice(l), TotalPrice(l))
	assert.Equal(t, AdvancePayment(l, TotalPrice(l)), AdvancePayment(l, TotalPrice(l)))
}

func TestInvalidInputsClampToZero(t *testing.T) {
	assert.Equal(t, 0.0, TotalPrice(Listing{Model: RateHourly, PricePerHour: -10, Start: "09:00", End: "10:00"}))
	assert.Equal(t, 0.0, TotalPrice(Listing{Model: RateSale, SalePrice: math.NaN()}))
	assert.Equal(t, 0.0, AdvancePayment(Listing{Model: RateHourly, DepositPercentage: 30}, math.Inf(1)))
	assert.Equal(t, 100.0, AdvancePayment(Listing{Model: RateHourly, DepositPercentage: 250}, 100))
	assert.Equal(t, 0.0, AdvancePayment(Listing{Model: RateHourly, DepositPercentage: -5}, 100))
}

func TestTicket(t *testing.T) {
	l := Listing{Model: RateTicket, TicketPrice: 15, DepositPercentage: 20}
	assert.Equal(t, 15.0, TotalPrice(l))
	assert.Equal(t, 3.0, AdvancePayment(l, 15))
}
