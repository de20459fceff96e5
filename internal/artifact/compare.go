package artifact

// Compare orders artifacts for the merge side, which consumes small
// inputs first to keep intermediate merge cost low. It returns a
// negative number when a sorts before b, zero only when a and b are the
// same artifact, and a positive number otherwise. Equal ids short-
// circuit; otherwise sizes ascend, with the lower id first on a size
// tie so the order is a strict deterministic total order.
func Compare(a, b *Artifact) int {
	if a.id == b.id {
		return 0
	}
	if a.Size() != b.Size() {
		if a.Size() < b.Size() {
			return -1
		}
		return 1
	}
	if a.id < b.id {
		return -1
	}
	return 1
}
