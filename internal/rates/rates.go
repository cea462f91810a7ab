// Package rates converts between fiat and satoshi amounts. Pure arithmetic
// on a configured rate; live rate lookup is an external concern.
package rates

// KESToSats converts a KES amount to satoshis at the given rate.
func KESToSats(amountKES, satsPerKES int64) int64 {
	return amountKES * satsPerKES
}

// SatsToKES converts satoshis to whole KES, rounding down.
func SatsToKES(amountSats, satsPerKES int64) int64 {
	if satsPerKES <= 0 {
		return 0
	}
	return amountSats / satsPerKES
}
