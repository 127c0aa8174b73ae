package billing

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strings"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultPlanName is what an unmapped price id resolves to when the event
// metadata carries no usable plan name either. Whether this should hard-fail
// instead is still an open product question, so every fallback is warn-logged
// for alerting.
const DefaultPlanName = PlanProfessional

// PriceTableOptions contains the configuration for the PriceTable
type PriceTableOptions struct {
	Logger          *zap.Logger
	PathToPriceJSON string
}

// PriceTable maps Stripe price ids onto plan names. The mapping is static
// per deployment and loaded once at process init.
type PriceTable struct {
	PriceTableOptions
	prices map[string]PlanName
}

// NewPriceTable loads the price-id to plan-name mapping from the JSON file.
// The file is an object of the form {"price_xxx": "Starter", ...}; a plan
// name outside the defined tiers fails loading.
func NewPriceTable(option PriceTableOptions) (*PriceTable, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.PathToPriceJSON) == 0 {
		return nil, fmt.Errorf("empty PathToPriceJSON is invalid")
	}

	jsonBytes, err := ioutil.ReadFile(option.PathToPriceJSON)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open price JSON file")
	}
	raw := make(map[string]string)
	if err := json.Unmarshal(jsonBytes, &raw); err != nil {
		return nil, extErrors.Wrap(err, "Invalid price JSON file")
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("price JSON file defines no prices")
	}

	prices := make(map[string]PlanName, len(raw))
	for priceID, name := range raw {
		plan, ok := ParsePlanName(name)
		if !ok {
			return nil, fmt.Errorf("price %s maps to undefined plan name %q", priceID, name)
		}
		prices[priceID] = plan
	}

	return &PriceTable{
		PriceTableOptions: option,
		prices:            prices,
	}, nil
}

// ParsePlanName matches a free-form plan name against the defined tiers
func ParsePlanName(name string) (PlanName, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "starter":
		return PlanStarter, true
	case "professional":
		return PlanProfessional, true
	case "enterprise":
		return PlanEnterprise, true
	default:
		return PlanUnknown, false
	}
}

// Resolve determines the plan name for a price id. Lookup order: the static
// table, then a plan name carried in event metadata, then DefaultPlanName.
// Both fallback paths are warn-logged so operators notice a stale table.
func (t *PriceTable) Resolve(priceID, metadataPlanName string) PlanName {
	if plan, ok := t.prices[priceID]; ok {
		return plan
	}
	if plan, ok := ParsePlanName(metadataPlanName); ok {
		t.Logger.Warn("Price id not in table, using plan name from event metadata",
			zap.String("PriceID", priceID),
			zap.String("PlanName", string(plan)),
		)
		return plan
	}
	t.Logger.Warn("Price id not in table and no metadata plan name, falling back to default",
		zap.String("PriceID", priceID),
		zap.String("Default", string(DefaultPlanName)),
	)
	return DefaultPlanName
}
