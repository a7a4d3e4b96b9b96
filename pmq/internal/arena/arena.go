// Package arena hands out raw memory regions that live outside the garbage
// collector's view. Handle headers store queue links and block back-offsets
// inside these regions, where the GC cannot see them, so the backing memory
// must never be collectible while a region is live.
package arena

import "fmt"

func checkSize(size int) {
	if size <= 0 {
		panic(fmt.Sprintf("arena: invalid region size %d", size))
	}
}
