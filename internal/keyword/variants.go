package keyword

import "strings"

// variantLengthSlack is the maximum length difference allowed when treating a
// containment match as a variant pair.
const variantLengthSlack = 3

// VariantManager decides when two textual forms are variants of the same
// keyword and which form should be canonical.
type VariantManager struct{}

// NewVariantManager creates a variant manager.
func NewVariantManager() *VariantManager {
	return &VariantManager{}
}

// IsVariant reports whether a and b are forms of the same keyword: their
// normalized forms match, or one contains the other and their lengths differ
// by at most the slack.
func (vm *VariantManager) IsVariant(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return true
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		diff := len(na) - len(nb)
		if diff < 0 {
			diff = -diff
		}
		return diff <= variantLengthSlack
	}
	return false
}

// CanonicalForm picks the longest variant; ties break lexicographically.
func (vm *VariantManager) CanonicalForm(variants []string) string {
	canonical := ""
	for _, v := range variants {
		if len(v) > len(canonical) || (len(v) == len(canonical) && v < canonical) {
			canonical = v
		}
	}
	return canonical
}
