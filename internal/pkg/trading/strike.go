// Package trading provides small trading calculation helpers.
package trading

import "math"

// ATMStrike rounds the underlying price down to the strike increment.
// Always floor, never nearest: atm(23456, 50) = 23450, atm(23499, 50) = 23450.
func ATMStrike(price float64, increment int) int {
	if price <= 0 || increment <= 0 {
		return 0
	}
	inc := float64(increment)
	return int(math.Floor(price/inc) * inc)
}

// PnLPct is the fractional return of price over entry.
func PnLPct(entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return (price - entry) / entry
}

// RoundToTick snaps price to the nearest tick multiple.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// IsTickMultiple reports whether price sits on the tick grid, tolerating
// float error up to a thousandth of a tick.
func IsTickMultiple(price, tick float64) bool {
	if tick <= 0 {
		return false
	}
	rem := math.Mod(price, tick)
	eps := tick / 1000
	return rem < eps || tick-rem < eps
}
