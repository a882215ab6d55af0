package poold

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketIdempotency = []byte("idempotency")

const headerIdempotency = "Idempotency-Key"

// IdempotencyStore caches responses to mutating requests keyed by the
// client-supplied Idempotency-Key header, so a retried request replays the
// original outcome instead of executing twice.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
}

type idempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// NewIdempotencyStore opens (and migrates) the BoltDB-backed cache.
func NewIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the cached response for the key, if any unexpired one exists.
func (s *IdempotencyStore) Lookup(key string, now time.Time) (int, []byte, bool) {
	var rec idempotencyRecord
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIdempotency).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil
		}
		found = now.Before(rec.ExpiresAt)
		return nil
	})
	if !found {
		return 0, nil, false
	}
	return rec.StatusCode, rec.Body, true
}

// Store caches a response under the key.
func (s *IdempotencyStore) Store(key string, status int, body []byte, now time.Time) error {
	rec := idempotencyRecord{
		StatusCode: status,
		Body:       append([]byte(nil), body...),
		StoredAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), raw)
	})
}

// recordingWriter buffers the handler's response so it can be cached.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
