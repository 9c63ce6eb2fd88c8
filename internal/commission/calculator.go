package commission

import "math"

// Compute derives the commission outcome from a resolved deduction
// breakdown. It is a pure function: the same breakdown, rule, and payment
// amounts always yield the same result. Values keep full precision here;
// rounding belongs to the persistence boundary.
func Compute(bd DeductionBreakdown, rule CommissionRule, paidAmount, installmentTotal float64) CommissionResult {
	res := CommissionResult{
		Base:           bd.Base,
		CommissionType: rule.Type,
	}
	switch rule.Type {
	case TypeFixed:
		// The base is still recorded for audit but does not scale the
		// fixed amount.
		res.FullAmount = rule.FixedAmount
	default:
		res.CommissionPercent = rule.Percent
		res.FullAmount = bd.Base * rule.Percent / 100
	}

	res.PaidPercent = paidPercent(paidAmount, installmentTotal)
	res.GeneratedAmount = res.FullAmount * res.PaidPercent / 100
	return res
}

func paidPercent(paid, total float64) float64 {
	if total <= 0 {
		return 0
	}
	pct := paid / total * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Round2 rounds a monetary value to two decimal places using half-up
// rounding. Applied only when a snapshot or closing total is written.
// The epsilon absorbs binary representation drift so an exact decimal
// half like 4.475 rounds up instead of sitting at 4.47499999....
func Round2(v float64) float64 {
	if v < 0 {
		return -Round2(-v)
	}
	return math.Floor(v*100+0.5+1e-9) / 100
}
