package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"gihan9a/docpatch/internal/document"
)

// record is the byte encoding used by the key-value drivers. Body holds the
// root as JSON so object key order survives a round trip.
type record struct {
	Version int64  `msgpack:"version"`
	Body    []byte `msgpack:"body"`
}

func encodeRecord(doc *document.Document) ([]byte, error) {
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", doc.ID, err)
	}
	return msgpack.Marshal(&record{Version: doc.Version, Body: body})
}

func decodeRecord(id string, data []byte) (*document.Document, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", id, err)
	}
	root, err := document.Parse(r.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding %q body: %w", id, err)
	}
	return &document.Document{ID: id, Version: r.Version, Root: root}, nil
}

// recordVersion decodes only the version of a stored record.
func recordVersion(data []byte) (int64, error) {
	var r struct {
		Version int64 `msgpack:"version"`
	}
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return 0, err
	}
	return r.Version, nil
}
