package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// Driver availability as written by external services. Distinct from dispatch
// state: availability says whether a driver should be offered trips at all,
// dispatch state says whether one specific offer is in flight.
const (
	Available   = "available"
	Booked      = "booked"
	Unavailable = "unavailable"
)

const geoKey = "drivers:locations"

var ErrUnknownDriver = errors.New("driver not found in registry")

func metaKey(driverID string) string { return "driver:" + driverID }

// Profile is the slice of a driver's profile the registry caches.
type Profile struct {
	VehicleClass string
	Rating       string
}

// ProfileLookup fetches driver profile data for first-sighting enrichment.
type ProfileLookup interface {
	Lookup(ctx context.Context, driverID string) (Profile, error)
}

// Registry holds last known driver positions plus metadata in Redis.
// Records are never deleted; stale entries fall out of query results once
// their last update ages past the freshness window.
type Registry struct {
	client    redis.Cmdable
	profiles  ProfileLookup
	freshness time.Duration
	now       func() time.Time
}

func New(client redis.Cmdable, profiles ProfileLookup, freshness time.Duration) *Registry {
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return &Registry{client: client, profiles: profiles, freshness: freshness, now: time.Now}
}

// Upsert updates the driver's position and freshness timestamp. An unseen
// driver is enriched once from the profile service and starts out available.
// The enrichment guard is the status field, which only a successful
// enrichment writes, so a failed lookup is retried on the next update
// instead of leaving the driver permanently unmatchable.
func (r *Registry) Upsert(ctx context.Context, driverID string, lat, lon float64) error {
	enriched, err := r.client.HExists(ctx, metaKey(driverID), "status").Result()
	if err != nil {
		return fmt.Errorf("check driver record: %w", err)
	}

	if err := r.client.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lon,
		Latitude:  lat,
	}).Err(); err != nil {
		return fmt.Errorf("update driver position: %w", err)
	}
	if err := r.client.HSet(ctx, metaKey(driverID), "timestamp", strconv.FormatInt(r.now().Unix(), 10)).Err(); err != nil {
		return fmt.Errorf("update driver timestamp: %w", err)
	}

	if !enriched {
		profile, err := r.profiles.Lookup(ctx, driverID)
		if err != nil {
			return fmt.Errorf("enrich driver %s: %w", driverID, err)
		}
		if err := r.client.HSet(ctx, metaKey(driverID), map[string]any{
			"vehicle_class": profile.VehicleClass,
			"rating":        profile.Rating,
			"status":        Available,
		}).Err(); err != nil {
			return fmt.Errorf("store driver profile: %w", err)
		}
	}
	return nil
}

// SetAvailability is the out-of-band status write used by external services.
func (r *Registry) SetAvailability(ctx context.Context, driverID, status string) error {
	switch status {
	case Available, Booked, Unavailable:
	default:
		return fmt.Errorf("invalid availability %q", status)
	}
	exists, err := r.client.Exists(ctx, metaKey(driverID)).Result()
	if err != nil {
		return fmt.Errorf("check driver record: %w", err)
	}
	if exists == 0 {
		return ErrUnknownDriver
	}
	if err := r.client.HSet(ctx, metaKey(driverID), "status", status).Err(); err != nil {
		return fmt.Errorf("set driver availability: %w", err)
	}
	return nil
}

// Record returns the driver's registry entry with its current position.
func (r *Registry) Record(ctx context.Context, driverID string) (models.DriverRecord, error) {
	meta, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.DriverRecord{}, fmt.Errorf("get driver record: %w", err)
	}
	if len(meta) == 0 {
		return models.DriverRecord{}, ErrUnknownDriver
	}
	rec := recordFromMeta(driverID, meta)
	pos, err := r.client.GeoPos(ctx, geoKey, driverID).Result()
	if err != nil {
		return models.DriverRecord{}, fmt.Errorf("get driver position: %w", err)
	}
	if len(pos) > 0 && pos[0] != nil {
		rec.Lat = pos[0].Latitude
		rec.Lon = pos[0].Longitude
	}
	return rec, nil
}

// QueryRadius scans the geo index around the given point and filters the hits
// to available, fresh drivers matching the optional vehicle class. Results
// keep the index's nearest-first ordering and its distances; drivers failing
// a filter are skipped silently.
func (r *Registry) QueryRadius(ctx context.Context, lat, lon, radiusMeters float64, vehicleClass string) ([]models.DriverRecord, error) {
	hits, err := r.client.GeoRadius(ctx, geoKey, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusMeters,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius query: %w", err)
	}

	cutoff := r.now().Add(-r.freshness)
	out := make([]models.DriverRecord, 0, len(hits))
	for _, hit := range hits {
		meta, err := r.client.HGetAll(ctx, metaKey(hit.Name)).Result()
		if err != nil || len(meta) == 0 {
			continue
		}
		rec := recordFromMeta(hit.Name, meta)
		if rec.Status != Available {
			continue
		}
		if vehicleClass != "" && rec.VehicleClass != vehicleClass {
			continue
		}
		if rec.LastSeen.Before(cutoff) {
			continue
		}
		rec.Lat = hit.Latitude
		rec.Lon = hit.Longitude
		rec.Distance = hit.Dist
		out = append(out, rec)
	}
	return out, nil
}

func recordFromMeta(driverID string, meta map[string]string) models.DriverRecord {
	rec := models.DriverRecord{
		DriverID:     driverID,
		VehicleClass: meta["vehicle_class"],
		Rating:       meta["rating"],
		Status:       meta["status"],
	}
	if ts, err := strconv.ParseFloat(meta["timestamp"], 64); err == nil {
		rec.LastSeen = time.Unix(int64(ts), 0)
	}
	return rec
}
