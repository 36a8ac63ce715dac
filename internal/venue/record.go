package venue

import (
	"encoding/json"
	"time"
)

// Price is an optional price tier such as "$$". The zero value is NoPrice.
type Price struct {
	Tier  string
	Valid bool
}

// NoPrice is the absent price state.
var NoPrice = Price{}

// PriceOf returns a present price, or NoPrice when tier is empty.
func PriceOf(tier string) Price {
	if tier == "" {
		return NoPrice
	}
	return Price{Tier: tier, Valid: true}
}

// Ptr returns the tier as a nullable string for storage.
func (p Price) Ptr() *string {
	if !p.Valid {
		return nil
	}
	tier := p.Tier
	return &tier
}

// MarshalJSON encodes NoPrice as null.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Tier)
}

// UnmarshalJSON accepts a string or null.
func (p *Price) UnmarshalJSON(data []byte) error {
	var tier *string
	if err := json.Unmarshal(data, &tier); err != nil {
		return err
	}
	if tier == nil {
		*p = NoPrice
		return nil
	}
	*p = PriceOf(*tier)
	return nil
}

// Record is one stored venue. Records are immutable: a new synchronization
// deletes and recreates them.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Category  Category  `json:"category"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	DetailURL string    `json:"url"`
	Rating    float64   `json:"rating"`
	Price     Price     `json:"price"`
	SyncID    string    `json:"sync_id"`
	CreatedAt time.Time `json:"created_at"`
}

// HomeLocation is the search an owner last synchronized successfully.
type HomeLocation struct {
	OwnerID     string    `json:"owner_id"`
	Location    string    `json:"location"`
	RadiusMiles int       `json:"radius_miles"`
	ResultCount int       `json:"result_count"`
	SyncID      string    `json:"sync_id"`
	SyncedAt    time.Time `json:"synced_at"`
}

// RawBusiness is a provider business record before normalization. Pointer
// fields distinguish an absent key from a zero value.
type RawBusiness struct {
	ID       *string  `json:"id,omitempty"`
	Name     *string  `json:"name"`
	ImageURL *string  `json:"image_url"`
	URL      *string  `json:"url"`
	Rating   *float64 `json:"rating"`
	Price    *string  `json:"price,omitempty"`
}

// Snapshot is the full result of one synchronization run, committed as a unit.
type Snapshot struct {
	SyncID   string
	OwnerID  string
	Location HomeLocation
	Records  []Record
}

// Counts returns the number of records per category. Every category is present.
func (s Snapshot) Counts() map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	for _, r := range s.Records {
		counts[r.Category]++
	}
	return counts
}
