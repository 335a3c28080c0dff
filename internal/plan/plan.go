// Package plan defines the immutable plan catalog: request and video limits,
// feature entitlements, key quantity ceilings, and pricing. The catalog is
// loaded once at startup and read-only at request time.
package plan

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feature names a billable capability gated per plan.
type Feature string

const (
	// FeatureCompare is 1:1 face verification.
	FeatureCompare Feature = "compare"
	// FeatureSearch is 1:N search of a source face against targets.
	FeatureSearch Feature = "search"
	// FeatureBatch is N:N cross-product comparison.
	FeatureBatch Feature = "batch"
	// FeatureVideo is asynchronous video analysis.
	FeatureVideo Feature = "video"
)

// ErrUnknownPlan is returned when a plan code is not in the catalog.
var ErrUnknownPlan = errors.New("unknown plan code")

// Plan is one catalog entry. A limit of zero means unlimited.
type Plan struct {
	Code              string             `yaml:"code"`
	Label             string             `yaml:"label"`
	RequestsPerDay    int                `yaml:"requests_per_day"`
	RequestsPerMonth  int                `yaml:"requests_per_month"`
	VideosPerMonth    int                `yaml:"videos_per_month"`
	MaxAPIKeys        int                `yaml:"max_api_keys"`
	PriceCentsMonthly int                `yaml:"price_cents_monthly"`
	Features          map[Feature]bool   `yaml:"features"`
}

// Entitled reports whether the plan includes the feature.
func (p Plan) Entitled(f Feature) bool {
	return p.Features[f]
}

// Catalog is the set of known plans keyed by code.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog from a plan list, rejecting duplicates.
func NewCatalog(plans []Plan) (*Catalog, error) {
	byCode := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.Code == "" {
			return nil, errors.New("plan code cannot be empty")
		}
		if _, dup := byCode[p.Code]; dup {
			return nil, fmt.Errorf("duplicate plan code %q", p.Code)
		}
		byCode[p.Code] = p
	}
	return &Catalog{plans: byCode}, nil
}

// Get returns the plan for code.
func (c *Catalog) Get(code string) (Plan, error) {
	p, ok := c.plans[code]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, code)
	}
	return p, nil
}

// Has reports whether the catalog knows the code.
func (c *Catalog) Has(code string) bool {
	_, ok := c.plans[code]
	return ok
}

// LoadCatalog reads a YAML plan catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, errors.New("plan catalog contains no plans")
	}
	return NewCatalog(doc.Plans)
}

// DefaultCatalog returns the built-in catalog used when no file is configured.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog([]Plan{
		{
			Code:           "FREE",
			Label:          "Free",
			RequestsPerDay: 100,
			MaxAPIKeys:     1,
			Features: map[Feature]bool{
				FeatureCompare: true,
			},
		},
		{
			Code:              "PRO",
			Label:             "Pro",
			RequestsPerDay:    5000,
			RequestsPerMonth:  100000,
			VideosPerMonth:    50,
			MaxAPIKeys:        5,
			PriceCentsMonthly: 4900,
			Features: map[Feature]bool{
				FeatureCompare: true,
				FeatureSearch:  true,
				FeatureBatch:   true,
			},
		},
		{
			Code:              "ENTERPRISE",
			Label:             "Enterprise",
			MaxAPIKeys:        25,
			PriceCentsMonthly: 49900,
			Features: map[Feature]bool{
				FeatureCompare: true,
				FeatureSearch:  true,
				FeatureBatch:   true,
				FeatureVideo:   true,
			},
		},
	})
	return c
}
