package commission

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FeeKey addresses one acquirer fee rate.
type FeeKey struct {
	Method       string
	Installments int
}

// CommissionRule configures how commission is computed for a product line.
type CommissionRule struct {
	Type        CommissionType
	Percent     float64
	FixedAmount float64
}

// DeductionConfig holds the external fee/tax/commission tables. It is
// resolved once at startup into structured maps; nothing is string-parsed
// per request.
type DeductionConfig struct {
	TaxPercent  float64
	Fees        map[FeeKey]float64
	Commissions map[int64]CommissionRule
}

// FeeFor resolves the acquirer fee percentage for a method and installment
// count. A single installment uses the method's flat rate; multiple
// installments require an exact entry for that count.
func (c *DeductionConfig) FeeFor(method string, installments int) (float64, error) {
	if c == nil {
		return 0, fmt.Errorf("%w: config not loaded", ErrConfigurationMissing)
	}
	pct, ok := c.Fees[FeeKey{Method: normalizeMethod(method), Installments: installments}]
	if !ok {
		return 0, fmt.Errorf("%w: method=%s installments=%d", ErrConfigurationMissing, method, installments)
	}
	return pct, nil
}

// CommissionFor resolves the commission rule for a product line.
func (c *DeductionConfig) CommissionFor(productLineID int64) (CommissionRule, error) {
	if c == nil {
		return CommissionRule{}, fmt.Errorf("%w: config not loaded", ErrConfigurationMissing)
	}
	rule, ok := c.Commissions[productLineID]
	if !ok {
		return CommissionRule{}, fmt.Errorf("%w: no commission rule for product line %d", ErrConfigurationMissing, productLineID)
	}
	return rule, nil
}

type feeFileEntry struct {
	Method       string             `json:"method"`
	FlatPercent  *float64           `json:"flat_percent"`
	Installments map[string]float64 `json:"installments"`
}

type commissionFileEntry struct {
	ProductLineID int64   `json:"product_line_id"`
	Type          string  `json:"type"`
	Percent       float64 `json:"percent"`
	FixedAmount   float64 `json:"fixed_amount"`
}

type deductionFile struct {
	TaxPercent  float64               `json:"tax_percent"`
	Fees        []feeFileEntry        `json:"acquirer_fees"`
	Commissions []commissionFileEntry `json:"commissions"`
}

// LoadDeductionConfig reads the deduction configuration JSON file and builds
// the structured lookup tables.
func LoadDeductionConfig(path string) (*DeductionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("commission: read deduction config: %w", err)
	}
	return ParseDeductionConfig(raw)
}

// ParseDeductionConfig builds a DeductionConfig from raw JSON.
func ParseDeductionConfig(raw []byte) (*DeductionConfig, error) {
	var file deductionFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("commission: parse deduction config: %w", err)
	}
	if file.TaxPercent < 0 {
		return nil, fmt.Errorf("commission: tax percent cannot be negative")
	}

	cfg := &DeductionConfig{
		TaxPercent:  file.TaxPercent,
		Fees:        make(map[FeeKey]float64),
		Commissions: make(map[int64]CommissionRule),
	}
	for _, entry := range file.Fees {
		method := normalizeMethod(entry.Method)
		if method == "" {
			return nil, fmt.Errorf("commission: acquirer fee entry without method")
		}
		if entry.FlatPercent != nil {
			cfg.Fees[FeeKey{Method: method, Installments: 1}] = *entry.FlatPercent
		}
		for countStr, pct := range entry.Installments {
			count, err := strconv.Atoi(countStr)
			if err != nil || count < 2 {
				return nil, fmt.Errorf("commission: invalid installment count %q for method %s", countStr, method)
			}
			cfg.Fees[FeeKey{Method: method, Installments: count}] = pct
		}
	}
	for _, entry := range file.Commissions {
		if entry.ProductLineID == 0 {
			return nil, fmt.Errorf("commission: commission entry without product line id")
		}
		rule := CommissionRule{Percent: entry.Percent, FixedAmount: entry.FixedAmount}
		switch CommissionType(strings.ToUpper(entry.Type)) {
		case TypePercentage, "":
			rule.Type = TypePercentage
		case TypeFixed:
			rule.Type = TypeFixed
		default:
			return nil, fmt.Errorf("commission: unknown commission type %q", entry.Type)
		}
		cfg.Commissions[entry.ProductLineID] = rule
	}
	return cfg, nil
}

func normalizeMethod(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
