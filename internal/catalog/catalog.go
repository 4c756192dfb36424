// Package catalog holds the single source of truth for purchasable credit
// bundles. The same Catalog value is injected into the checkout endpoint
// (price allow-list) and the webhook intake (authoritative credit counts),
// so the two can never drift apart.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCatalog  = errors.New("catalog has no bundles")
	ErrInvalidBundle = errors.New("invalid bundle")
)

// Bundle maps one processor price to a fixed credit count.
type Bundle struct {
	BundleID string `json:"bundleId"`
	PriceID  string `json:"priceId"`
	Credits  int64  `json:"credits"`
	Name     string `json:"name"`
}

// Catalog is an immutable lookup over the configured bundles.
type Catalog struct {
	byPrice  map[string]Bundle
	byBundle map[string]Bundle
}

// New validates the bundles and builds a Catalog.
func New(bundles []Bundle) (Catalog, error) {
	if len(bundles) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}
	byPrice := make(map[string]Bundle, len(bundles))
	byBundle := make(map[string]Bundle, len(bundles))
	for _, bundle := range bundles {
		bundle.BundleID = strings.TrimSpace(bundle.BundleID)
		bundle.PriceID = strings.TrimSpace(bundle.PriceID)
		bundle.Name = strings.TrimSpace(bundle.Name)
		if bundle.BundleID == "" || bundle.PriceID == "" {
			return Catalog{}, fmt.Errorf("%w: bundle and price ids are required", ErrInvalidBundle)
		}
		if bundle.Credits <= 0 {
			return Catalog{}, fmt.Errorf("%w: %s must grant a positive credit count", ErrInvalidBundle, bundle.BundleID)
		}
		if _, exists := byPrice[bundle.PriceID]; exists {
			return Catalog{}, fmt.Errorf("%w: duplicate price id %s", ErrInvalidBundle, bundle.PriceID)
		}
		if _, exists := byBundle[bundle.BundleID]; exists {
			return Catalog{}, fmt.Errorf("%w: duplicate bundle id %s", ErrInvalidBundle, bundle.BundleID)
		}
		byPrice[bundle.PriceID] = bundle
		byBundle[bundle.BundleID] = bundle
	}
	return Catalog{byPrice: byPrice, byBundle: byBundle}, nil
}

// Default returns the production bundle set.
func Default() Catalog {
	c, err := New([]Bundle{
		{BundleID: "starter", PriceID: "price_1RqckrFXWKfEvemGm5bfXri5", Credits: 3, Name: "Starter Pack"},
		{BundleID: "popular", PriceID: "price_1RqclZFXWKfEvemGF1iltPvj", Credits: 10, Name: "Popular Pack"},
		{BundleID: "pro", PriceID: "price_1RqcmSFXWKfEvemG52HgrenK", Credits: 25, Name: "Pro Pack"},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// ParseJSON decodes a bundle list from a configuration override.
func ParseJSON(raw string) (Catalog, error) {
	var bundles []Bundle
	if err := json.Unmarshal([]byte(raw), &bundles); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	return New(bundles)
}

// IsZero reports whether the catalog was never initialized.
func (c Catalog) IsZero() bool {
	return c.byPrice == nil
}

// LookupPrice resolves a processor price id to its bundle.
func (c Catalog) LookupPrice(priceID string) (Bundle, bool) {
	bundle, ok := c.byPrice[strings.TrimSpace(priceID)]
	return bundle, ok
}

// LookupBundle resolves a bundle id to its bundle.
func (c Catalog) LookupBundle(bundleID string) (Bundle, bool) {
	bundle, ok := c.byBundle[strings.TrimSpace(bundleID)]
	return bundle, ok
}
