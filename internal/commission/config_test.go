package commission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfigJSON = `{
  "tax_percent": 6.0,
  "acquirer_fees": [
    {"method": "Credit_Card", "flat_percent": 3.2, "installments": {"2": 4.0, "3": 4.5}},
    {"method": "pix", "flat_percent": 0.0}
  ],
  "commissions": [
    {"product_line_id": 5001, "type": "percentage", "percent": 10.0},
    {"product_line_id": 5004, "type": "fixed", "fixed_amount": 15.0}
  ]
}`

func TestParseDeductionConfig(t *testing.T) {
	cfg, err := ParseDeductionConfig([]byte(sampleConfigJSON))
	require.NoError(t, err)
	require.InDelta(t, 6.0, cfg.TaxPercent, 1e-9)

	// Method names are normalized to lower case at load time.
	pct, err := cfg.FeeFor("credit_card", 3)
	require.NoError(t, err)
	require.InDelta(t, 4.5, pct, 1e-9)

	pct, err = cfg.FeeFor("CREDIT_CARD", 1)
	require.NoError(t, err)
	require.InDelta(t, 3.2, pct, 1e-9)

	pct, err = cfg.FeeFor("pix", 1)
	require.NoError(t, err)
	require.Zero(t, pct)

	rule, err := cfg.CommissionFor(5001)
	require.NoError(t, err)
	require.Equal(t, TypePercentage, rule.Type)
	require.InDelta(t, 10.0, rule.Percent, 1e-9)

	rule, err = cfg.CommissionFor(5004)
	require.NoError(t, err)
	require.Equal(t, TypeFixed, rule.Type)
	require.InDelta(t, 15.0, rule.FixedAmount, 1e-9)
}

func TestParseDeductionConfigNeverDefaultsMissingEntries(t *testing.T) {
	cfg, err := ParseDeductionConfig([]byte(sampleConfigJSON))
	require.NoError(t, err)

	_, err = cfg.FeeFor("credit_card", 12)
	require.ErrorIs(t, err, ErrConfigurationMissing)

	_, err = cfg.FeeFor("boleto", 1)
	require.ErrorIs(t, err, ErrConfigurationMissing)

	_, err = cfg.CommissionFor(9999)
	require.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestParseDeductionConfigRejectsBadInput(t *testing.T) {
	_, err := ParseDeductionConfig([]byte(`{`))
	require.Error(t, err)

	_, err = ParseDeductionConfig([]byte(`{"acquirer_fees":[{"flat_percent":1.0}]}`))
	require.Error(t, err)

	_, err = ParseDeductionConfig([]byte(`{"acquirer_fees":[{"method":"card","installments":{"one":2.0}}]}`))
	require.Error(t, err)

	_, err = ParseDeductionConfig([]byte(`{"commissions":[{"product_line_id":1,"type":"bonus"}]}`))
	require.Error(t, err)

	_, err = ParseDeductionConfig([]byte(`{"tax_percent":-1}`))
	require.Error(t, err)
}

func TestNilConfigLookupsFail(t *testing.T) {
	var cfg *DeductionConfig
	_, err := cfg.FeeFor("pix", 1)
	require.ErrorIs(t, err, ErrConfigurationMissing)
	_, err = cfg.CommissionFor(1)
	require.ErrorIs(t, err, ErrConfigurationMissing)
}
