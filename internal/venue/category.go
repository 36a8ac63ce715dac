// Package venue holds the venue synchronization workflow: the record model,
// normalization of provider results and the per-owner replace engine.
package venue

import (
	"fmt"
	"strings"
)

// Category selects the provider search term and the stored record shape.
type Category string

const (
	CategoryRestaurants Category = "restaurants"
	CategoryBars        Category = "bars"
	CategoryCoffee      Category = "coffee"
	CategoryActivities  Category = "activities"
)

// Categories lists every category in synchronization order.
var Categories = []Category{
	CategoryRestaurants,
	CategoryBars,
	CategoryCoffee,
	CategoryActivities,
}

var searchTerms = map[Category]string{
	CategoryRestaurants: "restaurants",
	CategoryBars:        "drinks",
	CategoryCoffee:      "coffee",
	CategoryActivities:  "active life",
}

// SearchTerm returns the provider term used to query the category.
func (c Category) SearchTerm() string {
	return searchTerms[c]
}

// HasPrice reports whether records of the category carry a price tier.
func (c Category) HasPrice() bool {
	return c != CategoryActivities
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	_, ok := searchTerms[c]
	return ok
}

// ParseCategory resolves a path segment into a Category. "drinks" is accepted
// as an alias for bars.
func ParseCategory(raw string) (Category, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "drinks" {
		return CategoryBars, nil
	}
	c := Category(value)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, raw)
	}
	return c, nil
}
