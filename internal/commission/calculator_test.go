package commission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() *DeductionConfig {
	return &DeductionConfig{
		TaxPercent: 6,
		Fees: map[FeeKey]float64{
			{Method: "credit_card", Installments: 1}: 3.2,
			{Method: "credit_card", Installments: 3}: 4.5,
			{Method: "pix", Installments: 1}:         0,
		},
		Commissions: map[int64]CommissionRule{
			5001: {Type: TypePercentage, Percent: 10},
			5004: {Type: TypeFixed, FixedAmount: 15},
		},
	}
}

func TestComputeHalfPaidInstallment(t *testing.T) {
	// 100.00 paid on a 3x credit card installment: fee 4.5% and tax 6%
	// leave a base of 89.50; 10% commission gives 8.95 full, and a 50%
	// paid installment generates 4.475, persisted as 4.48.
	event := PaymentEvent{
		SaleID:            1,
		ProductLineID:     5001,
		InstallmentNumber: 1,
		EmployeeID:        42,
		PaidAmount:        100.00,
		InstallmentTotal:  200.00,
		PaymentMethod:     "credit_card",
		InstallmentCount:  3,
		PaymentDate:       time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		SaleDate:          time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	cfg := testConfig()

	bd, err := ResolveDeductions(event, cfg)
	require.NoError(t, err)
	require.InDelta(t, 4.50, bd.AcquirerFeeAmount, 1e-9)
	require.InDelta(t, 6.00, bd.TaxAmount, 1e-9)
	require.InDelta(t, 89.50, bd.Base, 1e-9)
	require.False(t, bd.BaseClampedToZero)

	rule, err := cfg.CommissionFor(event.ProductLineID)
	require.NoError(t, err)
	result := Compute(bd, rule, event.PaidAmount, event.InstallmentTotal)
	require.InDelta(t, 8.95, result.FullAmount, 1e-9)
	require.InDelta(t, 50, result.PaidPercent, 1e-9)

	snap := buildSnapshot(event, bd, result, time.Now())
	require.Equal(t, 8.95, snap.FullAmount)
	require.Equal(t, 4.48, snap.GeneratedAmount)
	require.Equal(t, 4.47, snap.RemainingBalance)
	require.Equal(t, StatusPending, snap.Status)
}

func TestComputeIsProportionalToPaidShare(t *testing.T) {
	bd := DeductionBreakdown{Base: 200}
	rule := CommissionRule{Type: TypePercentage, Percent: 10}

	quarter := Compute(bd, rule, 25, 100)
	half := Compute(bd, rule, 50, 100)
	full := Compute(bd, rule, 100, 100)

	require.InDelta(t, 5, quarter.GeneratedAmount, 1e-9)
	require.InDelta(t, 10, half.GeneratedAmount, 1e-9)
	require.InDelta(t, 20, full.GeneratedAmount, 1e-9)
	require.InDelta(t, half.GeneratedAmount*2, full.GeneratedAmount, 1e-9)
}

func TestComputeClampsPaidPercent(t *testing.T) {
	bd := DeductionBreakdown{Base: 100}
	rule := CommissionRule{Type: TypePercentage, Percent: 10}

	over := Compute(bd, rule, 150, 100)
	require.InDelta(t, 100, over.PaidPercent, 1e-9)
	require.InDelta(t, 10, over.GeneratedAmount, 1e-9)

	zeroTotal := Compute(bd, rule, 50, 0)
	require.Zero(t, zeroTotal.PaidPercent)
	require.Zero(t, zeroTotal.GeneratedAmount)
}

func TestComputeFixedIgnoresBase(t *testing.T) {
	bd := DeductionBreakdown{Base: 3}
	rule := CommissionRule{Type: TypeFixed, FixedAmount: 15}

	result := Compute(bd, rule, 100, 100)
	require.Equal(t, TypeFixed, result.CommissionType)
	require.InDelta(t, 15, result.FullAmount, 1e-9)
	require.InDelta(t, 15, result.GeneratedAmount, 1e-9)
	require.Zero(t, result.CommissionPercent)
}

func TestRound2HalfUp(t *testing.T) {
	cases := map[float64]float64{
		4.475:  4.48,
		4.474:  4.47,
		2.005:  2.01,
		1.004:  1.00,
		0:      0,
		-4.475: -4.48,
		-1.004: -1.00,
	}
	for in, want := range cases {
		require.Equal(t, want, Round2(in), "Round2(%v)", in)
	}
}
