package rule

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Indicator metrics readable from a snapshot.
const (
	IndicatorVolume         = "volume"
	IndicatorTradeCount     = "trade_count"
	IndicatorHolderDelta30m = "holder_delta_30m"
	IndicatorHolderDelta6h  = "holder_delta_6h"
	IndicatorPrice          = "price"
)

// IndicatorTemplate defines one indicator of a confirmation template.
type IndicatorTemplate struct {
	ID        string
	Label     string
	Metric    string
	Threshold decimal.Decimal
}

// ConfirmationTemplate is a named indicator set for confirmation rules.
// Templates are static configuration data; rule creation resolves them
// into the rule's payload.
type ConfirmationTemplate struct {
	Name       string
	Need       int
	Indicators []IndicatorTemplate
}

var confirmationTemplates = map[string]ConfirmationTemplate{
	"breakout": {
		Name: "breakout",
		Need: 2,
		Indicators: []IndicatorTemplate{
			{ID: "volume_surge", Label: "Volume surge", Metric: IndicatorVolume, Threshold: decimal.NewFromInt(50000)},
			{ID: "trade_burst", Label: "Trade burst", Metric: IndicatorTradeCount, Threshold: decimal.NewFromInt(200)},
			{ID: "holder_inflow", Label: "Holder inflow (30m)", Metric: IndicatorHolderDelta30m, Threshold: decimal.NewFromInt(25)},
		},
	},
	"accumulation": {
		Name: "accumulation",
		Need: 2,
		Indicators: []IndicatorTemplate{
			{ID: "holder_inflow_6h", Label: "Holder inflow (6h)", Metric: IndicatorHolderDelta6h, Threshold: decimal.NewFromInt(100)},
			{ID: "steady_volume", Label: "Steady volume", Metric: IndicatorVolume, Threshold: decimal.NewFromInt(10000)},
			{ID: "trade_activity", Label: "Trade activity", Metric: IndicatorTradeCount, Threshold: decimal.NewFromInt(80)},
		},
	},
}

// LookupTemplate resolves a confirmation template by name.
func LookupTemplate(name string) (ConfirmationTemplate, error) {
	tpl, ok := confirmationTemplates[name]
	if !ok {
		return ConfirmationTemplate{}, fmt.Errorf("unknown confirmation template %q", name)
	}
	return tpl, nil
}

// NewConfirmationState materialises a template into a rule payload. The
// need count comes from the template unless overridden by configuration.
func NewConfirmationState(tpl ConfirmationTemplate, needOverride, cooldownMinutes int) *ConfirmationState {
	need := tpl.Need
	if needOverride > 0 {
		need = needOverride
	}
	indicators := make([]Indicator, 0, len(tpl.Indicators))
	for _, it := range tpl.Indicators {
		indicators = append(indicators, Indicator{
			ID:        it.ID,
			Label:     it.Label,
			Metric:    it.Metric,
			Threshold: it.Threshold,
		})
	}
	return &ConfirmationState{
		Template:        tpl.Name,
		Need:            need,
		Indicators:      indicators,
		CooldownMinutes: cooldownMinutes,
	}
}
