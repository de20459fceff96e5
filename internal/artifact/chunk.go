package artifact

// FileChunk describes a byte range of an on-disk file that holds one
// committed artifact's data. Direct marks chunks that reference a
// producer-local file the shuffle never copied; those bytes are not
// owned by the consumer and must never be deleted by it.
type FileChunk struct {
	Path   string
	Offset int64
	Length int64
	Direct bool
	Origin Origin
}
