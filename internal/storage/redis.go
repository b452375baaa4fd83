package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores vector payloads in Redis, one key per node id, the
// value being the record's raw little-endian float32 bytes. It exists so
// the tier can front a network store in addition to file and memory; the
// engine treats it like any other Backend.
type RedisBackend struct {
	client redis.Cmdable
	dim    int

	mu    sync.Mutex
	stats IOStats
}

// RedisKey returns the storage key for a node id.
func RedisKey(id uint64) string {
	return fmt.Sprintf("vec:%d", id)
}

// NewRedisBackend wraps an existing client. dim may be 0 and is adopted from
// the first write.
func NewRedisBackend(client redis.Cmdable, dim int) *RedisBackend {
	return &RedisBackend{client: client, dim: dim}
}

// NewRedisBackendAddr dials addr with default options.
func NewRedisBackendAddr(addr string, dim int) *RedisBackend {
	return NewRedisBackend(redis.NewClient(&redis.Options{Addr: addr}), dim)
}

func (r *RedisBackend) ReadNode(id uint64) ([]float32, error) {
	start := time.Now()
	raw, err := r.client.Get(context.Background(), RedisKey(id)).Bytes()
	elapsedUS := float64(time.Since(start).Nanoseconds()) / 1e3
	if err == redis.Nil {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("redis read node %d: %w", id, err)
	}

	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	r.mu.Lock()
	r.stats.recordRead(len(raw), elapsedUS)
	r.mu.Unlock()
	return vec, nil
}

func (r *RedisBackend) WriteNode(id uint64, vec []float32) error {
	r.mu.Lock()
	if r.dim == 0 {
		r.dim = len(vec)
	}
	dim := r.dim
	r.mu.Unlock()

	if len(vec) != dim {
		return &DimensionMismatchError{Got: len(vec), Want: dim}
	}

	raw := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	start := time.Now()
	if err := r.client.Set(context.Background(), RedisKey(id), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis write node %d: %w", id, err)
	}
	elapsedUS := float64(time.Since(start).Nanoseconds()) / 1e3

	r.mu.Lock()
	r.stats.recordWrite(len(raw), elapsedUS)
	r.mu.Unlock()
	return nil
}

// BatchReadNodes fetches all ids with a single MGET round trip.
func (r *RedisBackend) BatchReadNodes(ids []uint64) [][]float32 {
	out := make([][]float32, len(ids))
	if len(ids) == 0 {
		return out
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = RedisKey(id)
	}

	start := time.Now()
	values, err := r.client.MGet(context.Background(), keys...).Result()
	elapsedUS := float64(time.Since(start).Nanoseconds()) / 1e3
	if err != nil {
		return out
	}

	var bytesRead int
	var numRead uint64
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		raw := []byte(s)
		vec := make([]float32, len(raw)/4)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		out[i] = vec
		bytesRead += len(raw)
		numRead++
	}

	r.mu.Lock()
	r.stats.NumReads += numRead
	r.stats.BytesRead += uint64(bytesRead)
	r.stats.ReadLatencyUS += elapsedUS
	r.mu.Unlock()
	return out
}

func (r *RedisBackend) Stats() IOStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *RedisBackend) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.reset()
}
