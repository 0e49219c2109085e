package rlex

import "sort"

// computeByteClasses partitions the 256-byte alphabet into equivalence
// classes using the boundaries of every transition range appearing in the
// combined NFA. Two bytes in the same class always take the same path
// through every terminal's automaton, so the lazy DFA only needs to
// remember one representative byte per class — this is the "byte-class"
// referred to throughout spec.md §4.2 and §4.5 (derivative cache keyed by
// (state, byte-class); sliced bias keyed by lexer class).
func computeByteClasses(n *nfa) *byteClasses {
	boundarySet := map[int]bool{0: true, 256: true}
	for _, st := range n.states {
		for _, t := range st.trans {
			boundarySet[int(t.lo)] = true
			boundarySet[int(t.hi)+1] = true
		}
	}
	bounds := make([]int, 0, len(boundarySet))
	for b := range boundarySet {
		bounds = append(bounds, b)
	}
	sort.Ints(bounds)

	var classOf [256]int16
	classStart := make([]byte, 0, len(bounds))
	classWidth := make([]int, 0, len(bounds))
	cid := int16(0)
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		classStart = append(classStart, byte(lo))
		classWidth = append(classWidth, hi-lo)
		for b := lo; b < hi; b++ {
			classOf[b] = cid
		}
		cid++
	}
	return &byteClasses{classOf: classOf, numClasses: int(cid), representative: classStart, width: classWidth}
}

// byteClasses is the precomputed class-of-byte table for one lexer.
type byteClasses struct {
	classOf        [256]int16
	numClasses     int
	representative []byte // representative[class] = smallest byte in that class
	width          []int  // width[class] = number of bytes sharing that class
}

func (c *byteClasses) classOfByte(b byte) int16 { return c.classOf[b] }

func (c *byteClasses) representativeByte(class int16) byte { return c.representative[class] }

func (c *byteClasses) classWidth(class int16) int { return c.width[class] }
