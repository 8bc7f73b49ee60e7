package fallback

import (
	"strings"

	"github.com/garagebot-core/server/internal/booking/state"
)

// Known vehicle brands, lowercased for matching.
var vehicleBrands = []string{
	"tata", "mahindra", "maruti", "suzuki", "honda", "toyota", "hyundai",
	"ford", "chevrolet", "nissan", "volkswagen", "bmw", "mercedes", "audi",
	"kia", "mg", "renault", "skoda", "jeep", "fiat", "volvo", "jaguar",
}

// Vehicle resolves a vehicle brand from the keyword table.
func Vehicle(text string) state.TriState {
	lower := strings.ToLower(text)
	for _, brand := range vehicleBrands {
		if containsWord(lower, brand) {
			return state.Of(strings.ToUpper(brand[:1]) + brand[1:])
		}
	}
	return state.Absent()
}
