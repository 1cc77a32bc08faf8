package bot

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseManifest reads a collected-cargo option like "QUAN:320, GOLD:12.5"
// into material quantities. Codes are upper-cased; quantities must be
// non-negative decimals in standard cargo units.
func ParseManifest(raw string) (map[string]decimal.Decimal, error) {
	manifest := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, qty, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("manifest entry %q must look like CODE:QUANTITY", part)
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return nil, fmt.Errorf("manifest entry %q is missing a material code", part)
		}
		quantity, err := decimal.NewFromString(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q has an invalid quantity: %w", part, err)
		}
		if quantity.IsNegative() {
			return nil, fmt.Errorf("manifest entry %q has a negative quantity", part)
		}
		manifest[code] = manifest[code].Add(quantity)
	}
	if len(manifest) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}
	return manifest, nil
}

// ParseDonors reads the donors option: space or comma separated user IDs,
// with Discord mention syntax (<@id>, <@!id>) tolerated.
func ParseDonors(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ','
	})
	donors := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		id := strings.TrimSuffix(f, ">")
		id = strings.TrimPrefix(id, "<@")
		id = strings.TrimPrefix(id, "!")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		donors = append(donors, id)
	}
	return donors
}
