package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/patch"
)

const (
	contentTypeJSON      = "application/json"
	contentTypeProtobuf  = "application/x-protobuf"
	contentTypeJSONPatch = "application/json-patch+json"
	contentTypeMerge     = "application/merge-patch+json"

	maxBodyBytes = 8 << 20
)

func mediaType(h string) string {
	mt, _, err := mime.ParseMediaType(h)
	if err != nil {
		return ""
	}
	return mt
}

func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if mediaType(strings.TrimSpace(part)) == contentTypeProtobuf {
			return true
		}
	}
	return false
}

// readBody returns the request body as JSON. A protobuf body holds a binary
// google.protobuf.Struct and is converted first.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", patch.ErrMalformedPatch, err)
	}
	if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", patch.ErrMalformedPatch, maxBodyBytes)
	}
	if mediaType(r.Header.Get("Content-Type")) != contentTypeProtobuf {
		return data, nil
	}

	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: protobuf body: %v", patch.ErrMalformedPatch, err)
	}
	return document.FromStruct(&st).MarshalJSON()
}

// decodeJSON reads the body into v.
func decodeJSON(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", patch.ErrMalformedPatch, err)
	}
	return nil
}

// writeValue encodes v as JSON, or as a protobuf Struct when the client
// asked for one.
func writeValue(w http.ResponseWriter, r *http.Request, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !wantsProtobuf(r) {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(status)
		_, err = w.Write(data)
		return err
	}

	node, err := document.Parse(data)
	if err != nil {
		return err
	}
	st, err := document.ToStruct(node)
	if err != nil {
		return err
	}
	out, err := proto.Marshal(st)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, err = w.Write(out)
	return err
}
