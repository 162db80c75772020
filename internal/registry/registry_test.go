package registry_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/registry"
)

type fakeProfiles struct {
	profiles map[string]registry.Profile
	calls    int
	err      error
}

func (f *fakeProfiles) Lookup(_ context.Context, driverID string) (registry.Profile, error) {
	f.calls++
	if f.err != nil {
		return registry.Profile{}, f.err
	}
	return f.profiles[driverID], nil
}

func setup(t *testing.T) (*registry.Registry, *fakeProfiles, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	profiles := &fakeProfiles{profiles: map[string]registry.Profile{
		"d1": {VehicleClass: "Car", Rating: "4.5"},
		"d2": {VehicleClass: "Bike", Rating: "4.9"},
	}}
	return registry.New(client, profiles, 30*time.Second), profiles, client
}

func TestUpsertEnrichesOnce(t *testing.T) {
	reg, profiles, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, "d1", 12.97, 77.59))
	require.NoError(t, reg.Upsert(ctx, "d1", 12.98, 77.60))
	require.Equal(t, 1, profiles.calls, "profile lookup must happen only on first sighting")

	rec, err := reg.Record(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "Car", rec.VehicleClass)
	require.Equal(t, "4.5", rec.Rating)
	require.Equal(t, registry.Available, rec.Status)
	require.InDelta(t, 12.98, rec.Lat, 0.001)
}

func TestUpsertSurfacesEnrichmentFailure(t *testing.T) {
	reg, profiles, _ := setup(t)
	profiles.err = errors.New("profile service down")

	err := reg.Upsert(context.Background(), "d9", 1, 1)
	require.Error(t, err)
}

func TestUpsertRetriesEnrichmentAfterFailure(t *testing.T) {
	reg, profiles, _ := setup(t)
	ctx := context.Background()

	profiles.err = errors.New("profile service down")
	require.Error(t, reg.Upsert(ctx, "d1", 12.97, 77.59))

	// the failed first sighting must not poison the record
	profiles.err = nil
	require.NoError(t, reg.Upsert(ctx, "d1", 12.98, 77.60))
	require.Equal(t, 2, profiles.calls)

	rec, err := reg.Record(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, "Car", rec.VehicleClass)
	require.Equal(t, registry.Available, rec.Status)

	recs, err := reg.QueryRadius(ctx, 12.98, 77.60, 2000, "")
	require.NoError(t, err)
	require.Len(t, recs, 1, "driver must be matchable once enrichment succeeds")
}

func TestQueryRadiusFiltersAndOrders(t *testing.T) {
	reg, _, _ := setup(t)
	ctx := context.Background()

	// d1 near the query point, d2 a little further out
	require.NoError(t, reg.Upsert(ctx, "d1", 12.9700, 77.5900))
	require.NoError(t, reg.Upsert(ctx, "d2", 12.9750, 77.5950))

	recs, err := reg.QueryRadius(ctx, 12.9700, 77.5900, 2000, "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "d1", recs[0].DriverID, "results must be nearest first")
	require.LessOrEqual(t, recs[0].Distance, recs[1].Distance)
}

func TestQueryRadiusExcludesUnavailable(t *testing.T) {
	reg, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, "d1", 12.97, 77.59))
	require.NoError(t, reg.SetAvailability(ctx, "d1", registry.Booked))

	recs, err := reg.QueryRadius(ctx, 12.97, 77.59, 2000, "")
	require.NoError(t, err)
	require.Empty(t, recs)

	require.NoError(t, reg.SetAvailability(ctx, "d1", registry.Available))
	recs, err = reg.QueryRadius(ctx, 12.97, 77.59, 2000, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestQueryRadiusExcludesStale(t *testing.T) {
	reg, _, client := setup(t)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, "d1", 12.97, 77.59))

	// age the record past the freshness window
	old := time.Now().Add(-time.Minute).Unix()
	require.NoError(t, client.HSet(ctx, "driver:d1", "timestamp", strconv.FormatInt(old, 10)).Err())

	recs, err := reg.QueryRadius(ctx, 12.97, 77.59, 2000, "")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestQueryRadiusVehicleClassFilter(t *testing.T) {
	reg, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, "d1", 12.97, 77.59)) // Car
	require.NoError(t, reg.Upsert(ctx, "d2", 12.97, 77.59)) // Bike

	recs, err := reg.QueryRadius(ctx, 12.97, 77.59, 2000, "Bike")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "d2", recs[0].DriverID)
}

func TestSetAvailabilityValidation(t *testing.T) {
	reg, _, _ := setup(t)
	ctx := context.Background()

	require.Error(t, reg.SetAvailability(ctx, "d1", "parked"))
	require.ErrorIs(t, reg.SetAvailability(ctx, "ghost", registry.Booked), registry.ErrUnknownDriver)
}
