package venue

import (
	"fmt"
	"strings"
)

// Normalize maps a raw provider record onto a Record owned by ownerID.
// A missing name, image_url, url or rating fails the record with
// ErrProviderResponseInvalid. A missing price yields NoPrice, and activities
// never carry a price.
func Normalize(raw RawBusiness, ownerID string, category Category) (Record, error) {
	var missing []string
	if raw.Name == nil || strings.TrimSpace(*raw.Name) == "" {
		missing = append(missing, "name")
	}
	if raw.ImageURL == nil {
		missing = append(missing, "image_url")
	}
	if raw.URL == nil {
		missing = append(missing, "url")
	}
	if raw.Rating == nil {
		missing = append(missing, "rating")
	}
	if len(missing) > 0 {
		return Record{}, fmt.Errorf("%w: %s record missing %s", ErrProviderResponseInvalid, category, strings.Join(missing, ", "))
	}

	record := Record{
		OwnerID:   ownerID,
		Category:  category,
		Name:      strings.TrimSpace(*raw.Name),
		ImageURL:  *raw.ImageURL,
		DetailURL: *raw.URL,
		Rating:    *raw.Rating,
		Price:     NoPrice,
	}
	if category.HasPrice() && raw.Price != nil {
		record.Price = PriceOf(strings.TrimSpace(*raw.Price))
	}
	return record, nil
}

// MilesToMeters converts a radius in miles to provider meters (1 mile = 1610 m).
func MilesToMeters(miles int) int {
	return miles * 1610
}
