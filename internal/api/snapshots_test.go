package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xdrportal/xdrportal/internal/api/schema"
	"github.com/xdrportal/xdrportal/internal/snapshot"
)

// fakeRepository serves a fixed snapshot list and records the last filter it was queried with
type fakeRepository struct {
	snapshots  []*snapshot.Snapshot
	lastFilter *snapshot.Filter
}

func (repo *fakeRepository) GetByFilter(_ context.Context, filter *snapshot.Filter, offset, limit uint64) ([]*snapshot.Snapshot, uint64, error) {
	repo.lastFilter = filter

	matching := make([]*snapshot.Snapshot, 0, len(repo.snapshots))
	for _, obj := range repo.snapshots {
		if filter.Source != nil && obj.Source != *filter.Source {
			continue
		}
		if filter.TenantID != nil && obj.TenantID != *filter.TenantID {
			continue
		}
		matching = append(matching, obj)
	}

	total := uint64(len(matching))
	if offset >= total {
		return nil, total, nil
	}
	matching = matching[offset:]
	if uint64(len(matching)) > limit {
		matching = matching[:limit]
	}
	return matching, total, nil
}

func (repo *fakeRepository) GetByID(_ context.Context, id uuid.UUID) (*snapshot.Snapshot, error) {
	for _, obj := range repo.snapshots {
		if obj.ID == id {
			return obj, nil
		}
	}
	return nil, nil
}

func (repo *fakeRepository) Create(_ context.Context, snapshots []*snapshot.Snapshot) error {
	repo.snapshots = append(repo.snapshots, snapshots...)
	return nil
}

func (repo *fakeRepository) Delete(_ context.Context, id uuid.UUID) error {
	return nil
}

func (repo *fakeRepository) DeleteOlderThan(_ context.Context, capturedBefore int64) (int64, error) {
	return 0, nil
}

var _ snapshot.Repository = (*fakeRepository)(nil)

type fakeDriver struct {
	repo *fakeRepository
}

func (driver *fakeDriver) Initialize(_ context.Context) error { return nil }
func (driver *fakeDriver) Snapshots() snapshot.Repository     { return driver.repo }
func (driver *fakeDriver) Close()                             {}

func newTestService(snapshots ...*snapshot.Snapshot) (*Service, *fakeRepository) {
	repo := &fakeRepository{snapshots: snapshots}
	return &Service{
		Storage: &fakeDriver{repo: repo},
		writer:  &schema.Writer{},
	}, repo
}

func TestEndpointGetSnapshots(t *testing.T) {
	first := snapshot.New("tenant-a", "alerts", json.RawMessage(`[{"alertId": "a1"}]`))
	second := snapshot.New("tenant-a", "incidents", json.RawMessage(`[]`))
	service, repo := newTestService(first, second)

	request := httptest.NewRequest(http.MethodGet, "/v1/snapshots?source=alerts", nil)
	recorder := httptest.NewRecorder()
	service.EndpointGetSnapshots(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var response schema.PaginatedResponse[*snapshot.Snapshot]
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Equal(t, uint64(1), response.Pagination.TotalCount)
	require.Equal(t, uint64(25), response.Pagination.Limit)
	require.Equal(t, 1, response.Pagination.IncludedCount)
	require.Len(t, response.Data, 1)
	require.Equal(t, first.ID, response.Data[0].ID)

	require.NotNil(t, repo.lastFilter.Source)
	require.Equal(t, "alerts", *repo.lastFilter.Source)
	require.Nil(t, repo.lastFilter.TenantID)
	require.Nil(t, repo.lastFilter.CapturedBefore)
}

func TestEndpointGetSnapshotsValidation(t *testing.T) {
	service, _ := newTestService()

	request := httptest.NewRequest(http.MethodGet, "/v1/snapshots?limit=9999&after=abc", nil)
	recorder := httptest.NewRecorder()
	service.EndpointGetSnapshots(recorder, request)

	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var response schema.ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	require.Len(t, response.Errors, 2)
	require.Equal(t, "validation.query.parameter.invalidType", response.Errors[0].Type)
	require.Equal(t, "validation.query.parameter.number.outOfRange", response.Errors[1].Type)
}

func TestEndpointGetSnapshot(t *testing.T) {
	obj := snapshot.New("tenant-a", "alerts", json.RawMessage(`[]`))
	service, _ := newTestService(obj)

	recorder := httptest.NewRecorder()
	service.EndpointGetSnapshot(recorder, requestWithID(obj.ID.String()))

	require.Equal(t, http.StatusOK, recorder.Code)
	var decoded snapshot.Snapshot
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	require.Equal(t, obj.ID, decoded.ID)
	require.Equal(t, "alerts", decoded.Source)
}

func TestEndpointGetSnapshotNotFound(t *testing.T) {
	service, _ := newTestService()

	recorder := httptest.NewRecorder()
	service.EndpointGetSnapshot(recorder, requestWithID(uuid.NewString()))
	require.Equal(t, http.StatusNotFound, recorder.Code)

	// A malformed ID is indistinguishable from an unknown one
	recorder = httptest.NewRecorder()
	service.EndpointGetSnapshot(recorder, requestWithID("not-a-uuid"))
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

// requestWithID builds a request carrying a chi route context with the 'id' URL parameter set
func requestWithID(id string) *http.Request {
	request := httptest.NewRequest(http.MethodGet, "/v1/snapshots/"+id, nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", id)
	return request.WithContext(context.WithValue(request.Context(), chi.RouteCtxKey, routeCtx))
}
