package grammar

// resolveGuard turns a parsed "%if" predicate tree into the IR's GuardExpr,
// a straightforward 1:1 mapping of operator kinds (ir.go's EvalGuard is the
// thing that actually evaluates it against a rule's 64-bit parameter at
// prediction time).
func (c *compiler) resolveGuard(sg *surfaceGuard) (*GuardExpr, error) {
	if sg == nil {
		return nil, nil
	}
	g := &GuardExpr{}
	switch sg.op {
	case gOpIsOnes:
		g.Op = GuardIsOnes
		g.Lo, g.Hi = uint8(sg.rng.lo), uint8(sg.rng.hi)
	case gOpIsZeros:
		g.Op = GuardIsZeros
		g.Lo, g.Hi = uint8(sg.rng.lo), uint8(sg.rng.hi)
	case gOpBitSet:
		g.Op = GuardBitSet
		g.Bit = uint8(sg.bit)
	case gOpBitClear:
		g.Op = GuardBitClear
		g.Bit = uint8(sg.bit)
	case gOpBitCountLt:
		g.Op = GuardBitCountLt
		g.Lo, g.Hi = uint8(sg.rng.lo), uint8(sg.rng.hi)
		g.N = sg.n
	case gOpBitCountGe:
		g.Op = GuardBitCountGe
		g.Lo, g.Hi = uint8(sg.rng.lo), uint8(sg.rng.hi)
		g.N = sg.n
	case gOpEq:
		g.Op = GuardEq
		g.Lo, g.Hi = uint8(sg.rng.lo), uint8(sg.rng.hi)
		g.N = sg.n
	case gOpLt:
		g.Op = GuardLt
		g.Lo, g.Hi = uint8(sg.rng.lo), uint8(sg.rng.hi)
		g.N = sg.n
	case gOpAnd, gOpOr, gOpNot:
		for _, s := range sg.sub {
			sub, err := c.resolveGuard(s)
			if err != nil {
				return nil, err
			}
			g.Sub = append(g.Sub, sub)
		}
		switch sg.op {
		case gOpAnd:
			g.Op = GuardAnd
		case gOpOr:
			g.Op = GuardOr
		default:
			g.Op = GuardNot
		}
	default:
		return nil, newCompileError(CategorySyntax, "%if", sg.pos, "unknown guard operator")
	}
	return g, nil
}
