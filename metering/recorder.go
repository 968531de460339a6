// Package metering counts verification queries per anonymous user.
package metering

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"oraclecheck/observability"
)

var (
	bucketUsers     = []byte("users")
	bucketLocations = []byte("locations")
	bucketTotals    = []byte("totals")

	keyTotalUsers   = []byte("totalUsers")
	keyTotalQueries = []byte("totalQueries")
	keyQueries      = []byte("queries")
	keyCreatedAt    = []byte("createdAt")
	keyLastQueryAt  = []byte("lastQueryAt")

	// ErrUnknownUser is returned when a user id was never issued.
	ErrUnknownUser = errors.New("unknown metering user")
	// ErrLocationRequired is returned when a user is identified without a location.
	ErrLocationRequired = errors.New("location required")
)

// QueryRecorder is the dependency the verification service takes.
type QueryRecorder interface {
	RecordQuery(ctx context.Context, userID string) error
}

// Stats are the counters kept for one user.
type Stats struct {
	UserID      string     `json:"userId"`
	Queries     uint64     `json:"queries"`
	Today       uint64     `json:"today"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastQueryAt *time.Time `json:"lastQueryAt,omitempty"`
}

// Recorder persists query counters in a bbolt file.
type Recorder struct {
	db     *bolt.DB
	now    func() time.Time
	logger *slog.Logger
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Open creates or opens the counter database at path.
func Open(path string, opts ...Option) (*Recorder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("metering path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metering db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketUsers, bucketLocations, bucketTotals} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metering buckets: %w", err)
	}
	r := &Recorder{db: db, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Close releases the database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// locationKey hashes the caller location so raw addresses never hit disk.
func locationKey(location string) []byte {
	sum := blake3.Sum256([]byte(strings.TrimSpace(location)))
	return sum[:]
}

// Identify returns the user id bound to location, issuing a new one on first
// sight.
func (r *Recorder) Identify(ctx context.Context, location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", ErrLocationRequired
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var userID string
	err := r.db.Update(func(tx *bolt.Tx) error {
		locations := tx.Bucket(bucketLocations)
		key := locationKey(location)
		if existing := locations.Get(key); existing != nil {
			userID = string(existing)
			return nil
		}
		n, err := increment(tx.Bucket(bucketTotals), keyTotalUsers)
		if err != nil {
			return err
		}
		userID = "user:" + strconv.FormatUint(n, 10)
		user, err := tx.Bucket(bucketUsers).CreateBucket([]byte(userID))
		if err != nil {
			return err
		}
		if err := user.Put(keyCreatedAt, []byte(r.now().UTC().Format(time.RFC3339Nano))); err != nil {
			return err
		}
		return locations.Put(key, []byte(userID))
	})
	if err != nil {
		return "", fmt.Errorf("identify user: %w", err)
	}
	return userID, nil
}

// RecordQuery bumps the user's lifetime and daily counters and the global
// total, and stamps the last query time.
func (r *Recorder) RecordQuery(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.now().UTC()
	err := r.db.Update(func(tx *bolt.Tx) error {
		user := tx.Bucket(bucketUsers).Bucket([]byte(userID))
		if user == nil {
			return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		if _, err := increment(user, keyQueries); err != nil {
			return err
		}
		if _, err := increment(user, dailyKey(now)); err != nil {
			return err
		}
		if _, err := increment(tx.Bucket(bucketTotals), keyTotalQueries); err != nil {
			return err
		}
		return user.Put(keyLastQueryAt, []byte(now.Format(time.RFC3339Nano)))
	})
	if err != nil {
		return err
	}
	observability.Verifier().RecordQuery()
	r.logger.Debug("query recorded", slog.String("user", userID))
	return nil
}

// Stats returns the counters for userID.
func (r *Recorder) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	stats := Stats{UserID: userID}
	err := r.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(bucketUsers).Bucket([]byte(userID))
		if user == nil {
			return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		stats.Queries = counter(user, keyQueries)
		stats.Today = counter(user, dailyKey(r.now().UTC()))
		if raw := user.Get(keyCreatedAt); raw != nil {
			stats.CreatedAt, _ = time.Parse(time.RFC3339Nano, string(raw))
		}
		if raw := user.Get(keyLastQueryAt); raw != nil {
			if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
				stats.LastQueryAt = &ts
			}
		}
		return nil
	})
	return stats, err
}

// TotalQueries returns the global counter.
func (r *Recorder) TotalQueries(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total uint64
	err := r.db.View(func(tx *bolt.Tx) error {
		total = counter(tx.Bucket(bucketTotals), keyTotalQueries)
		return nil
	})
	return total, err
}

func dailyKey(t time.Time) []byte {
	return []byte("queries:" + t.Format(time.DateOnly))
}

func counter(b *bolt.Bucket, key []byte) uint64 {
	raw := b.Get(key)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func increment(b *bolt.Bucket, key []byte) (uint64, error) {
	next := counter(b, key) + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	return next, b.Put(key, buf[:])
}
