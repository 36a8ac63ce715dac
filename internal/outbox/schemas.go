package outbox

import "example.com/venues/internal/venue"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	venue.EventSynchronized: {
		Schema: venuesSynchronizedSchema,
	},
}

const venuesSynchronizedSchema = `{
  "type": "object",
  "title": "VenuesSynchronized",
  "properties": {
    "sync_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "location": {"type": "string"},
    "radius_miles": {"type": "integer", "minimum": 1},
    "result_count": {"type": "integer", "minimum": 1},
    "counts": {
      "type": "object",
      "properties": {
        "restaurants": {"type": "integer", "minimum": 0},
        "bars": {"type": "integer", "minimum": 0},
        "coffee": {"type": "integer", "minimum": 0},
        "activities": {"type": "integer", "minimum": 0}
      },
      "required": ["restaurants", "bars", "coffee", "activities"],
      "additionalProperties": false
    },
    "synced_at": {"type": "string", "format": "date-time"}
  },
  "required": ["sync_id", "owner_id", "location", "radius_miles", "result_count", "counts", "synced_at"],
  "additionalProperties": false
}`
