package puzzle

// Rule is a puzzle-specific stacking constraint. Allows reports whether block
// may rest directly on top of onto. Placement on an empty peg is always allowed.
type Rule interface {
	Name() string
	Allows(block, onto Block) bool
}

type sizeOrdered struct {
	sizes map[Block]int
}

// SizeOrdered is the disk-transfer rule: a block may only rest on a strictly
// larger one. Blocks missing from sizes are treated as size 0.
func SizeOrdered(sizes map[Block]int) Rule {
	cp := make(map[Block]int, len(sizes))
	for b, n := range sizes {
		cp[b] = n
	}
	return sizeOrdered{sizes: cp}
}

// RankedBySequence builds a SizeOrdered rule from blocks listed largest first.
func RankedBySequence(largestFirst ...Block) Rule {
	sizes := make(map[Block]int, len(largestFirst))
	for i, b := range largestFirst {
		sizes[b] = len(largestFirst) - i
	}
	return SizeOrdered(sizes)
}

func (r sizeOrdered) Name() string { return "hanoi" }

func (r sizeOrdered) Allows(block, onto Block) bool {
	return r.sizes[block] < r.sizes[onto]
}

// Size returns the configured size of b.
func (r sizeOrdered) Size(b Block) int { return r.sizes[b] }
