package commission

// ResolveDeductions applies the deduction chain to a payment event. The
// order is fixed: start from the paid amount, add delivery-fee revenue,
// then subtract acquirer fee, tax, delivery cost, and discount. A chain
// that would drive the base below zero clamps to zero and flags the result
// instead of failing; the flag is an auditable event, not an error.
func ResolveDeductions(event PaymentEvent, cfg *DeductionConfig) (DeductionBreakdown, error) {
	feePct, err := cfg.FeeFor(event.PaymentMethod, event.InstallmentCount)
	if err != nil {
		return DeductionBreakdown{}, err
	}

	bd := DeductionBreakdown{
		PaidAmount:         event.PaidAmount,
		DeliveryFeeRevenue: event.DeliveryFeeRevenue,
		AcquirerFeePercent: feePct,
		PaymentMethod:      normalizeMethod(event.PaymentMethod),
		InstallmentCount:   event.InstallmentCount,
		TaxPercent:         cfg.TaxPercent,
		DeliveryCost:       event.DeliveryCost,
		Discount:           event.Discount,
	}
	bd.AcquirerFeeAmount = event.PaidAmount * feePct / 100
	bd.TaxAmount = event.PaidAmount * cfg.TaxPercent / 100

	base := event.PaidAmount
	base += bd.DeliveryFeeRevenue
	base -= bd.AcquirerFeeAmount
	base -= bd.TaxAmount
	base -= bd.DeliveryCost
	base -= bd.Discount
	if base < 0 {
		base = 0
		bd.BaseClampedToZero = true
	}
	bd.Base = base
	return bd, nil
}
