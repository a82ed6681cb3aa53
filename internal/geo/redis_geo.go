package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridehail/internal/models"
)

// metaGrace keeps a stale driver's metadata around long enough for a resumed
// location stream to find the record again.
const metaGrace = time.Hour

// RedisIndex implements Index using Redis GEO commands plus a metadata hash per
// driver. The hash expires ttl+metaGrace after the last write so abandoned
// drivers fall out on their own.
type RedisIndex struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisIndex(client *redis.Client, key string, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, key: key, ttl: ttl}
}

func (r *RedisIndex) Upsert(ctx context.Context, rec models.DriverAvailability) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: rec.Position.Lng, Latitude: rec.Position.Lat, Name: rec.DriverID})
		pipe.HSet(ctx, metaKey(rec.DriverID), map[string]interface{}{
			"online":        strconv.FormatBool(rec.Online),
			"placeholder":   strconv.FormatBool(rec.Placeholder),
			"registered_at": strconv.FormatInt(rec.RegisteredAt.UnixNano(), 10),
			"updated_at":    strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10),
			"lat":           strconv.FormatFloat(rec.Position.Lat, 'f', -1, 64),
			"lng":           strconv.FormatFloat(rec.Position.Lng, 'f', -1, 64),
		})
		if r.ttl > 0 {
			pipe.Expire(ctx, metaKey(rec.DriverID), r.ttl+metaGrace)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert driver %s: %w", rec.DriverID, err)
	}
	return nil
}

func (r *RedisIndex) Get(ctx context.Context, driverID string) (models.DriverAvailability, bool, error) {
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.DriverAvailability{}, false, fmt.Errorf("redis get driver %s: %w", driverID, err)
	}
	if len(m) == 0 {
		return models.DriverAvailability{}, false, nil
	}
	return parseMeta(driverID, m), true, nil
}

func (r *RedisIndex) Within(ctx context.Context, p models.Coord, radiusMeters float64) ([]Candidate, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(res))
	for i, g := range res {
		cmds[i] = pipe.HGetAll(ctx, metaKey(g.Name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis load driver meta: %w", err)
	}

	out := make([]Candidate, 0, len(res))
	var expired []interface{}
	for i, g := range res {
		m := cmds[i].Val()
		if len(m) == 0 {
			expired = append(expired, g.Name)
			continue
		}
		out = append(out, Candidate{DriverAvailability: parseMeta(g.Name, m), DistanceMeters: g.Dist})
	}
	if len(expired) > 0 {
		// metadata expired; drop the geo members too
		_ = r.client.ZRem(ctx, r.key, expired...).Err()
	}
	return out, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func parseMeta(id string, m map[string]string) models.DriverAvailability {
	rec := models.DriverAvailability{DriverID: id}
	rec.Online, _ = strconv.ParseBool(m["online"])
	rec.Placeholder, _ = strconv.ParseBool(m["placeholder"])
	if v, err := strconv.ParseInt(m["registered_at"], 10, 64); err == nil {
		rec.RegisteredAt = time.Unix(0, v)
	}
	if v, err := strconv.ParseInt(m["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(0, v)
	}
	rec.Position.Lat, _ = strconv.ParseFloat(m["lat"], 64)
	rec.Position.Lng, _ = strconv.ParseFloat(m["lng"], 64)
	return rec
}

func metaKey(id string) string { return "driver:meta:" + id }
