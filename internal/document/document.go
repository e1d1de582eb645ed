package document

// Document is a versioned root node. Version 0 is reserved for documents
// that do not exist yet.
type Document struct {
	ID      string
	Version int64
	Root    *Node
}

// New returns the first version of a document.
func New(id string, root *Node) *Document {
	return &Document{ID: id, Version: 1, Root: orNull(root)}
}

// Next returns the successor of d holding root. d is left untouched.
func (d *Document) Next(root *Node) *Document {
	return &Document{ID: d.ID, Version: d.Version + 1, Root: orNull(root)}
}
