package catalog

import (
	"errors"
	"testing"
)

func TestNewRejectsInvalidBundles(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		bundles []Bundle
	}{
		{name: "empty", bundles: nil},
		{name: "missing price id", bundles: []Bundle{{BundleID: "starter", Credits: 3}}},
		{name: "zero credits", bundles: []Bundle{{BundleID: "starter", PriceID: "price_a", Credits: 0}}},
		{name: "duplicate price id", bundles: []Bundle{
			{BundleID: "a", PriceID: "price_a", Credits: 3},
			{BundleID: "b", PriceID: "price_a", Credits: 10},
		}},
	}
	for _, testCase := range cases {
		test.Run(testCase.name, func(test *testing.T) {
			if _, err := New(testCase.bundles); err == nil {
				test.Fatalf("expected error")
			}
		})
	}
}

func TestLookupsResolveBothDirections(test *testing.T) {
	test.Parallel()
	c := Default()
	bundle, ok := c.LookupBundle("popular")
	if !ok || bundle.Credits != 10 || bundle.Name != "Popular Pack" {
		test.Fatalf("unexpected bundle: %+v ok=%v", bundle, ok)
	}
	byPrice, ok := c.LookupPrice(bundle.PriceID)
	if !ok || byPrice.BundleID != "popular" {
		test.Fatalf("price lookup mismatch: %+v ok=%v", byPrice, ok)
	}
	if _, ok := c.LookupPrice("price_unknown"); ok {
		test.Fatalf("expected unknown price to miss")
	}
}

func TestParseJSONOverride(test *testing.T) {
	test.Parallel()
	c, err := ParseJSON(`[{"bundleId":"mega","priceId":"price_mega","credits":100,"name":"Mega Pack"}]`)
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	bundle, ok := c.LookupPrice("price_mega")
	if !ok || bundle.Credits != 100 {
		test.Fatalf("unexpected bundle: %+v", bundle)
	}
	if _, err := ParseJSON("not json"); !errors.Is(err, ErrInvalidBundle) {
		test.Fatalf("expected ErrInvalidBundle, got %v", err)
	}
}
