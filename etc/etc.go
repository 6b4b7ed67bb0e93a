package etc

import (
	"github.com/nrednav/cuid2"
)

// IDLength is the length of ids from NewFreshID.
const IDLength = 16

var generate = mustInit(cuid2.Init(cuid2.WithLength(IDLength)))

func mustInit(fn func() string, err error) func() string {
	if err != nil {
		panic(err)
	}
	return fn
}

// NewFreshID returns a collision-resistant id for a conversation entry.
func NewFreshID() string {
	return generate()
}
