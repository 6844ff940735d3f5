package board

// Key3 returns a compact key that is identical for a position and its mirror
// image. Every stone is a base 3 digit (1 for the player to move, 2 for the
// opponent) and every column ends with a 0 digit. Both scan directions are
// computed and the smaller is kept.
//
// The arithmetic is done on uint64 and stays exact as long as the position
// has at most 40-Width stones, which covers every opening book depth in use.
func (p *Position) Key3() uint64 {
	var forward uint64
	for col := 0; col < Width; col++ {
		forward = p.partialKey3(forward, col)
	}

	var reverse uint64
	for col := Width - 1; col >= 0; col-- {
		reverse = p.partialKey3(reverse, col)
	}

	return min(forward, reverse) / 3
}

func (p *Position) partialKey3(key uint64, col int) uint64 {
	for cell := BottomMaskCol(col); p.Mask&cell != 0; cell <<= 1 {
		key *= 3
		if p.Current&cell != 0 {
			key++
		} else {
			key += 2
		}
	}
	return key * 3
}
