package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/proto"

	"gihan9a/docpatch/internal/coordinator"
	"gihan9a/docpatch/internal/document"
	"gihan9a/docpatch/internal/patch"
	"gihan9a/docpatch/internal/store"
	"gihan9a/docpatch/internal/utils"
	"gihan9a/docpatch/pkg/patchproto"
)

// handlePatchRequest applies a patchproto.Request and answers with a
// patchproto.Response.
func (s *Server) handlePatchRequest(w http.ResponseWriter, r *http.Request) {
	var req patchproto.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	res, err := s.applyRequest(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeResult(w, r, http.StatusOK, res)
}

func (s *Server) applyRequest(ctx context.Context, req patchproto.Request) (*coordinator.Result, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("%w: missing document id", patch.ErrMalformedPatch)
	}
	if len(req.Operations) == 0 {
		return nil, fmt.Errorf("%w: no operations", patch.ErrMalformedPatch)
	}
	p, err := patch.Parse(req.Operations)
	if err != nil {
		return nil, err
	}
	return s.coord.Apply(ctx, coordinator.Request{
		ID:              req.ID,
		Patch:           p,
		ExpectedVersion: req.ExpectedVersion,
	})
}

// handleGet serves the current document, or a subscription stream when the
// client sends Subscribe: true.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc, err := s.coord.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) && s.proxyDocument(w, r) {
			return
		}
		s.writeFailure(w, r, err)
		return
	}
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Range-Request-Allow-Methods", "PATCH, PUT")
	w.Header().Set("Range-Request-Allow-Units", "json")

	if r.Header.Get("Subscribe") == "true" {
		s.subscribe(w, r, doc, body)
		return
	}

	setVersionHeaders(w, doc)
	if ifNoneMatch(r, doc.Version) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if wantsProtobuf(r) {
		v, err := document.ToStructValue(doc.Root)
		if err == nil {
			var out []byte
			if out, err = proto.Marshal(v); err == nil {
				w.Header().Set("Content-Type", contentTypeProtobuf)
				w.Write(out)
				return
			}
		}
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Write(body)
}

// handlePut creates a document or replaces its root.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	expected, err := ifMatch(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	root, err := document.Parse(data)
	if err != nil {
		s.writeFailure(w, r, fmt.Errorf("%w: %v", patch.ErrMalformedPatch, err))
		return
	}
	res, err := s.coord.Put(r.Context(), id, root, expected)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	status := http.StatusOK
	if res.PreviousVersion == 0 {
		status = http.StatusCreated
	}
	s.writeResult(w, r, status, res)
}

// handlePatch applies a JSON Patch or a JSON Merge Patch, chosen by
// Content-Type.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	expected, err := ifMatch(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	ct := mediaType(r.Header.Get("Content-Type"))
	switch ct {
	case contentTypeMerge, contentTypeJSONPatch, contentTypeJSON, "":
	default:
		http.Error(w, fmt.Sprintf("unsupported content type %q", ct), http.StatusUnsupportedMediaType)
		return
	}

	data, err := readBody(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	var res *coordinator.Result
	if ct == contentTypeMerge {
		res, err = s.coord.MergePatch(r.Context(), id, data, expected)
	} else {
		var p patch.Patch
		if p, err = patch.Decode(data); err == nil {
			res, err = s.coord.Apply(r.Context(), coordinator.Request{ID: id, Patch: p, ExpectedVersion: expected})
		}
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeResult(w, r, http.StatusOK, res)
}

// ifMatch reads the expected version from If-Match. A missing header or *
// means no precondition.
func ifMatch(r *http.Request) (*int64, error) {
	h := r.Header.Get("If-Match")
	if h == "" || h == "*" {
		return nil, nil
	}
	v, err := utils.ParseVersion(h)
	if err != nil {
		return nil, fmt.Errorf("%w: If-Match: %v", patch.ErrMalformedPatch, err)
	}
	return &v, nil
}

// ifNoneMatch reports whether If-None-Match names version v.
func ifNoneMatch(r *http.Request, v int64) bool {
	h := r.Header.Get("If-None-Match")
	if h == "" {
		return false
	}
	for _, tag := range strings.Split(h, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" {
			return true
		}
		if got, err := utils.ParseVersion(tag); err == nil && got == v {
			return true
		}
	}
	return false
}

// setVersionHeaders sets Version, Parents and ETag. The ETag is the
// version, so it can be sent back in If-Match.
func setVersionHeaders(w http.ResponseWriter, doc *document.Document) {
	w.Header().Set("Version", utils.FormatVersion(doc.Version))
	w.Header().Set("ETag", utils.FormatVersion(doc.Version))
	if doc.Version > 1 {
		w.Header().Set("Parents", utils.FormatVersion(doc.Version-1))
	} else {
		w.Header().Set("Parents", "")
	}
}

func (s *Server) response(res *coordinator.Result) (patchproto.Response, error) {
	body, err := res.Document.Root.MarshalJSON()
	if err != nil {
		return patchproto.Response{}, err
	}
	resp := patchproto.Response{
		Status:     patchproto.StatusSuccess,
		NewVersion: res.Document.Version,
		Document:   body,
	}
	if s.config.Patch.ReturnInverse {
		if resp.Inverse, err = res.Inverse.Wire(); err != nil {
			return patchproto.Response{}, err
		}
	}
	return resp, nil
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, status int, res *coordinator.Result) {
	resp, err := s.response(res)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	setVersionHeaders(w, res.Document)
	if err := writeValue(w, r, status, resp); err != nil {
		s.log.Error("writing response", "path", r.URL.Path, "err", err)
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	resp, status := failure(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "kind", resp.ErrorKind, "err", err)
	}
	if err := writeValue(w, r, status, resp); err != nil {
		s.log.Error("writing response", "path", r.URL.Path, "err", err)
	}
}
