package checkout

import "github.com/fjod/farm-checkout/internal/domain"

// PartitionBySeller groups lines by seller. Groups appear in the order their
// seller is first seen and lines keep their cart order inside a group.
func PartitionBySeller(lines []domain.CartLine) []domain.SellerGroup {
	index := make(map[string]int)
	var groups []domain.SellerGroup

	for _, line := range lines {
		i, seen := index[line.SellerID]
		if !seen {
			i = len(groups)
			index[line.SellerID] = i
			groups = append(groups, domain.SellerGroup{SellerID: line.SellerID})
		}
		groups[i].Lines = append(groups[i].Lines, line)
	}

	for i := range groups {
		groups[i].Subtotal = domain.SumLines(groups[i].Lines)
	}
	return groups
}
