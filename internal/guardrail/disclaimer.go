package guardrail

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed disclaimers.yaml
var disclaimerYAML []byte

type disclaimerRegime struct {
	Regions []string          `yaml:"regions"`
	General string            `yaml:"general"`
	Assets  map[string]string `yaml:"assets"`
}

type disclaimerTable struct {
	Regimes map[string]disclaimerRegime `yaml:"regimes"`
}

// DisclaimerGenerator produces regionally appropriate risk disclaimers
// keyed by regulator regime and asset class.
type DisclaimerGenerator struct {
	table    disclaimerTable
	byRegion map[string]string
}

// NewDisclaimerGenerator loads the embedded disclaimer table
func NewDisclaimerGenerator() (*DisclaimerGenerator, error) {
	var table disclaimerTable
	if err := yaml.Unmarshal(disclaimerYAML, &table); err != nil {
		return nil, fmt.Errorf("parse disclaimer table: %w", err)
	}
	if _, ok := table.Regimes["global"]; !ok {
		return nil, fmt.Errorf("disclaimer table missing global fallback")
	}

	byRegion := make(map[string]string)
	for name, regime := range table.Regimes {
		for _, region := range regime.Regions {
			byRegion[strings.ToLower(region)] = name
		}
	}
	return &DisclaimerGenerator{table: table, byRegion: byRegion}, nil
}

// Generate returns the disclaimer for one (asset class, region) pair:
// the regime's general paragraph plus the asset-specific one.
func (g *DisclaimerGenerator) Generate(assetClass, region string) string {
	regime := g.regimeFor(region)
	parts := []string{regime.General}
	if asset, ok := regime.Assets[strings.ToLower(assetClass)]; ok {
		parts = append(parts, asset)
	}
	return strings.Join(parts, " ")
}

// GenerateMultiAsset concatenates unique fragments across asset classes
func (g *DisclaimerGenerator) GenerateMultiAsset(assetClasses []string, region string) string {
	regime := g.regimeFor(region)
	parts := []string{regime.General}
	seen := map[string]struct{}{regime.General: {}}
	for _, class := range assetClasses {
		asset, ok := regime.Assets[strings.ToLower(class)]
		if !ok {
			continue
		}
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		parts = append(parts, asset)
	}
	return strings.Join(parts, " ")
}

func (g *DisclaimerGenerator) regimeFor(region string) disclaimerRegime {
	if name, ok := g.byRegion[strings.ToLower(region)]; ok {
		return g.table.Regimes[name]
	}
	return g.table.Regimes["global"]
}

// disclaimerMarkers are phrases whose presence means a disclaimer is
// already attached. All languages are checked regardless of the detected
// language since mixed content is common.
var disclaimerMarkers = []string{
	"not investment advice",
	"not financial advice",
	"does not constitute investment advice",
	"not a personal recommendation",
	"educational purposes only",
	"past performance",
	"capital at risk",
	"no es asesoramiento de inversión",
	"ne constitue pas un conseil en investissement",
	"keine anlageberatung",
	"non costituisce consulenza",
	"não constitui aconselhamento",
	"投資助言ではありません",
	"不构成投资建议",
	"توصیه سرمایه‌گذاری نیست",
}

// hasDisclaimer reports whether the text already carries a disclaimer phrase
func hasDisclaimer(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range disclaimerMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
