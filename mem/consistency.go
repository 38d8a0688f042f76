package mem

import "fmt"

// CheckConsistency verifies the reverse index against the borrow stacks by
// scanning all memory. It is meant for tests and debugging replays.
func (m *Memory) CheckConsistency() error {
	for _, edge := range m.Edges() {
		ptrs := m.pointers[edge]
		for i, p := range ptrs {
			r := m.run("check consistency", p)
			if !r.CanReadThrough(p.Offset, p.Size, edge) {
				return fmt.Errorf("mem: edge %d recorded at %v but missing from its stacks", edge, p)
			}
			for _, q := range ptrs[i+1:] {
				if p.Alloc == q.Alloc && p.Run == q.Run && !p.Range().Intersect(q.Range()).Empty() {
					return fmt.Errorf("mem: edge %d recorded twice over %v and %v", edge, p, q)
				}
			}
		}
	}

	for ai, a := range m.allocations {
		for ri, r := range a.runs {
			var err error
			r.stacks.each(0, r.Size(), func(rg Range, stack []Borrow) bool {
				for _, b := range stack {
					if covered := m.coverage(b.Edge, AllocID(ai), RunID(ri), rg); covered != rg.Len() {
						err = fmt.Errorf("mem: edge %d on stack of a%d.%d%v but the index covers %d of %d bytes",
							b.Edge, ai, ri, rg, covered, rg.Len())
						return false
					}
				}
				return true
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// coverage counts the bytes of rg that the index records for edge. Recorded
// ranges of one edge never intersect, so the sum does not double count.
func (m *Memory) coverage(edge Edge, alloc AllocID, run RunID, rg Range) int {
	n := 0
	for _, p := range m.pointers[edge] {
		if p.Alloc == alloc && p.Run == run {
			n += p.Range().Intersect(rg).Len()
		}
	}
	return n
}
