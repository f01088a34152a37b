package batch

import "txcat/internal/core"

type Group struct {
	Description  string
	Transactions []core.Transaction
}

// GroupByDescription groups txs by exact description. Groups appear in order
// of first occurrence and keep parse order inside.
func GroupByDescription(txs []core.Transaction) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, tx := range txs {
		i, ok := index[tx.Description]
		if !ok {
			i = len(groups)
			index[tx.Description] = i
			groups = append(groups, Group{Description: tx.Description})
		}
		groups[i].Transactions = append(groups[i].Transactions, tx)
	}
	return groups
}
