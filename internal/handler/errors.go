package handler

import (
	"errors"
	"net/http"

	"pantry-api/internal/store"
	"pantry-api/pkg/apierror"
	"pantry-api/pkg/response"
)

// toAPIError maps store error kinds onto HTTP errors. Anything unrecognised
// becomes a 500 without its message.
func toAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch store.KindOf(err) {
	case store.KindRecordNotFound:
		return apierror.NotFound("")
	case store.KindInvalidArgument:
		var se *store.Error
		if errors.As(err, &se) && se.Err != nil {
			return apierror.BadRequest(se.Err.Error())
		}
		return apierror.BadRequest("invalid argument")
	case store.KindStoreUnavailable, store.KindSchemaMigrationFailed, store.KindSeedApplicationFailed:
		return apierror.ServiceUnavailable("store is not ready")
	}
	return apierror.InternalError("")
}

func writeError(w http.ResponseWriter, err error) {
	response.Error(w, toAPIError(err))
}
