package domain

// CalculatePlatformFee returns the commission on amount in minor units,
// rounded half away from zero.
func CalculatePlatformFee(amount int64) int64 {
	scaled := amount / 100 * PlatformFeePercent
	rest := amount % 100 * PlatformFeePercent

	fee := scaled + rest/100
	switch remainder := rest % 100; {
	case remainder >= 50:
		fee++
	case remainder <= -50:
		fee--
	}
	return fee
}
