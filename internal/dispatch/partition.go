package dispatch

// Group is one labeled share of the reader pool.
type Group struct {
	Label   string
	Percent int
}

const (
	LabelPaid  = "paid"
	LabelOther = "other"
	// LabelAll names the single pool used when the split degrades.
	LabelAll = "all"

	DefaultMaxDegreeOfParallelism = 10
)

// DefaultGroups reserves 70% of the readers for paying tenants.
func DefaultGroups() []Group {
	return []Group{{Label: LabelPaid, Percent: 70}, {Label: LabelOther, Percent: 30}}
}

type Allocation struct {
	Split   bool
	Total   int
	Readers map[string]int
}

// Allocate spreads total readers over groups. Every group but the largest
// gets its truncated share and the largest takes the remainder, so the shares
// always sum to total. If a truncated share is zero the split is abandoned and
// one pool of total readers serves every group, so no group is left without a
// reader.
func Allocate(total int, groups []Group) Allocation {
	if total <= 0 {
		total = DefaultMaxDegreeOfParallelism
	}
	unsplit := Allocation{Total: total, Readers: map[string]int{LabelAll: total}}
	if len(groups) < 2 {
		return unsplit
	}

	largest := 0
	for i, g := range groups {
		if g.Percent > groups[largest].Percent {
			largest = i
		}
	}

	readers := make(map[string]int, len(groups))
	rest := total
	for i, g := range groups {
		if i == largest {
			continue
		}
		n := total * g.Percent / 100
		if n <= 0 {
			return unsplit
		}
		readers[g.Label] += n
		rest -= n
	}
	if rest <= 0 {
		return unsplit
	}
	readers[groups[largest].Label] += rest
	return Allocation{Split: true, Total: total, Readers: readers}
}
