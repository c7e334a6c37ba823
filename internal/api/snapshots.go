package api

import (
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/xdrportal/xdrportal/internal/api/schema"
	"github.com/xdrportal/xdrportal/internal/api/validation"
	"github.com/xdrportal/xdrportal/internal/snapshot"
)

// EndpointGetSnapshots handles the 'GET /v1/snapshots?tenant_id={string?}&source={string?}&before={timestamp?}&after={timestamp?}&offset={number?:0}&limit={number?:25}' endpoint
func (service *Service) EndpointGetSnapshots(writer http.ResponseWriter, request *http.Request) {
	var validationErrs []*schema.Error

	tenantID, _ := validation.QueryString(request, "tenant_id", false)
	source, _ := validation.QueryString(request, "source", false)

	before, validationErr := validation.QueryNumber(request, "before", false, -1, 0, math.MaxInt64)
	if validationErr != nil {
		validationErrs = append(validationErrs, validationErr)
	}
	after, validationErr := validation.QueryNumber(request, "after", false, -1, 0, math.MaxInt64)
	if validationErr != nil {
		validationErrs = append(validationErrs, validationErr)
	}
	offset, validationErr := validation.QueryNumber(request, "offset", false, 0, 0, math.MaxInt64)
	if validationErr != nil {
		validationErrs = append(validationErrs, validationErr)
	}
	limit, validationErr := validation.QueryNumber(request, "limit", false, 25, 1, 500)
	if validationErr != nil {
		validationErrs = append(validationErrs, validationErr)
	}

	if len(validationErrs) > 0 {
		service.writer.WriteErrors(writer, http.StatusBadRequest, validationErrs...)
		return
	}

	filter := new(snapshot.Filter)
	if tenantID != "" {
		filter.TenantID = &tenantID
	}
	if source != "" {
		filter.Source = &source
	}
	if before >= 0 {
		filter.CapturedBefore = &before
	}
	if after >= 0 {
		filter.CapturedAfter = &after
	}

	snapshots, totalCount, err := service.Storage.Snapshots().GetByFilter(request.Context(), filter, uint64(offset), uint64(limit))
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}

	service.writer.WriteJSON(writer, schema.BuildPaginatedResponse(uint64(offset), uint64(limit), totalCount, snapshots))
}

// EndpointGetSnapshot handles the 'GET /v1/snapshots/{id}' endpoint
func (service *Service) EndpointGetSnapshot(writer http.ResponseWriter, request *http.Request) {
	id, err := uuid.Parse(chi.URLParam(request, "id"))
	if err != nil {
		service.writer.WriteErrors(writer, http.StatusNotFound, schema.ErrNotFound)
		return
	}

	obj, err := service.Storage.Snapshots().GetByID(request.Context(), id)
	if err != nil {
		service.writer.WriteInternalError(writer, err)
		return
	}
	if obj == nil {
		service.writer.WriteErrors(writer, http.StatusNotFound, schema.ErrNotFound)
		return
	}

	service.writer.WriteJSON(writer, obj)
}
