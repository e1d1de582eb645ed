package server

import (
	"context"
	"errors"
	"net/http"

	"gihan9a/docpatch/internal/coordinator"
	"gihan9a/docpatch/internal/patch"
	"gihan9a/docpatch/internal/store"
	"gihan9a/docpatch/pkg/patchproto"
)

// errorKind maps err onto its wire kind and HTTP status. index is set when
// the failure belongs to one operation of a patch.
func errorKind(err error) (kind patchproto.ErrorKind, status int, index *int) {
	var opErr *patch.OperationError
	if errors.As(err, &opErr) {
		i := opErr.Index
		index = &i
	}

	switch {
	case errors.Is(err, patch.ErrMalformedPatch):
		return patchproto.MalformedPatch, http.StatusBadRequest, index
	case errors.Is(err, patch.ErrTestFailed):
		return patchproto.TestFailed, http.StatusConflict, index
	case errors.Is(err, patch.ErrInvalidMove):
		return patchproto.InvalidMove, http.StatusUnprocessableEntity, index
	case errors.Is(err, patch.ErrPathNotFound):
		return patchproto.PathNotFound, http.StatusUnprocessableEntity, index
	case errors.Is(err, store.ErrNotFound):
		return patchproto.NotFound, http.StatusNotFound, nil
	case errors.Is(err, coordinator.ErrPreconditionFailed):
		return patchproto.PreconditionFailed, http.StatusPreconditionFailed, nil
	case errors.Is(err, coordinator.ErrConcurrentModification):
		return patchproto.ConcurrentModification, http.StatusConflict, nil
	case errors.Is(err, store.ErrVersionConflict):
		return patchproto.VersionConflict, http.StatusConflict, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return patchproto.Internal, http.StatusServiceUnavailable, nil
	}
	return patchproto.Internal, http.StatusInternalServerError, nil
}

func failure(err error) (patchproto.Response, int) {
	kind, status, index := errorKind(err)
	return patchproto.Response{
		Status:         patchproto.StatusFailure,
		ErrorKind:      kind,
		OperationIndex: index,
		Detail:         err.Error(),
	}, status
}
