package artifact

import "fmt"

// Origin identifies the upstream producer output an artifact carries:
// which partition of which producer attempt, and optionally which spill
// of that output. Spill < 0 means the artifact covers the whole output
// rather than a single spill file.
type Origin struct {
	Partition int
	Attempt   int
	Spill     int
}

// WholeOutput reports whether the origin addresses a producer's entire
// output instead of one spill.
func (o Origin) WholeOutput() bool { return o.Spill < 0 }

func (o Origin) String() string {
	if o.Spill < 0 {
		return fmt.Sprintf("p%d/a%d", o.Partition, o.Attempt)
	}
	return fmt.Sprintf("p%d/a%d/s%d", o.Partition, o.Attempt, o.Spill)
}
