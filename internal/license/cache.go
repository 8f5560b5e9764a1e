package license

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// renameRetries bounds rename attempts before degrading to a direct
	// write. Transient rename failures have been observed on network-backed
	// mounts.
	renameRetries = 5
	renameBackoff = 50 * time.Millisecond
)

// CacheRecord is the persisted "last known good" remote verification,
// bound to the hash of the token that produced it. It is trusted only while
// the hash matches the presented token and the freshness window allows.
type CacheRecord struct {
	LastVerifiedAt      time.Time `json:"last_verified_at"`
	LastVerifiedAtEpoch float64   `json:"last_verified_at_epoch"`
	LicenseHash         string    `json:"license_hash"`
	Valid               bool      `json:"valid"`
	Exp                 int64     `json:"exp"`
	Tier                Tier      `json:"tier"`
	Features            []string  `json:"features"`
	CustomerID          string    `json:"customer_id"`
	Organization        string    `json:"organization"`
	Seats               int       `json:"seats"`
}

// Entitlements converts the record back into an entitlement view.
func (r *CacheRecord) Entitlements() *VerifiedEntitlements {
	return &VerifiedEntitlements{
		Valid:        r.Valid,
		Exp:          r.Exp,
		Tier:         r.Tier,
		Features:     r.Features,
		CustomerID:   r.CustomerID,
		Organization: r.Organization,
		Seats:        r.Seats,
	}
}

// cacheWriter persists the serialized cache. Two strategies exist: atomic
// rename (preferred) and direct write (selected on retry exhaustion). The
// cache is advisory, never the authority, so a degraded write is acceptable.
type cacheWriter interface {
	write(path string, data []byte) error
}

type directWrite struct{}

func (directWrite) write(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

type atomicRename struct {
	retries  int
	backoff  time.Duration
	fallback cacheWriter
}

func (w atomicRename) write(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".entitlements-*.tmp")
	if err != nil {
		return w.fallback.write(path, data)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		return w.fallback.write(path, data)
	}

	for attempt := 0; attempt < w.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * w.backoff)
		}
		if err := os.Rename(tmpName, path); err == nil {
			return nil
		}
	}
	os.Remove(tmpName)
	return w.fallback.write(path, data)
}

// VerificationCache is the durable last-known-good entitlement record. The
// in-memory mirror is guarded by a mutex; file I/O happens outside the
// critical section and the mirror is swapped afterwards. Cross-process
// consistency relies on atomic rename; concurrent writers racing is safe
// (last write wins) because the authority is always the verifier, not the
// cache.
type VerificationCache struct {
	path   string
	now    func() time.Time
	writer cacheWriter
	logger *slog.Logger

	mu     sync.RWMutex
	loaded bool
	record *CacheRecord
}

// CacheOption customizes a VerificationCache.
type CacheOption func(*VerificationCache)

// WithCacheClock overrides the clock, for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *VerificationCache) { c.now = now }
}

// WithCacheLogger overrides the logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *VerificationCache) { c.logger = l }
}

// NewVerificationCache creates a cache backed by one JSON file at path.
func NewVerificationCache(path string, opts ...CacheOption) *VerificationCache {
	c := &VerificationCache{
		path: path,
		now:  time.Now,
		writer: atomicRename{
			retries:  renameRetries,
			backoff:  renameBackoff,
			fallback: directWrite{},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "verification_cache"))
	return c
}

// Path returns the backing file path.
func (c *VerificationCache) Path() string {
	return c.path
}

// Load returns the cached record, populating the in-memory mirror from disk
// on first use. A missing file yields (nil, nil); a corrupt file is
// discarded rather than treated as fatal.
func (c *VerificationCache) Load() (*CacheRecord, error) {
	c.mu.RLock()
	if c.loaded {
		rec := c.record
		c.mu.RUnlock()
		return cloneRecord(rec), nil
	}
	c.mu.RUnlock()

	data, err := os.ReadFile(c.path)
	var rec *CacheRecord
	switch {
	case err == nil:
		rec = &CacheRecord{}
		if uerr := json.Unmarshal(data, rec); uerr != nil {
			c.logger.Warn("discarding unreadable verification cache",
				slog.String("path", c.path),
				slog.String("error", uerr.Error()))
			rec = nil
		}
	case os.IsNotExist(err):
		rec = nil
	default:
		return nil, fmt.Errorf("read verification cache: %w", err)
	}

	c.mu.Lock()
	if !c.loaded {
		c.record = rec
		c.loaded = true
	}
	rec = c.record
	c.mu.Unlock()
	return cloneRecord(rec), nil
}

// Save overwrites the cache with a fresh verification result. The file write
// happens before the mirror swap so a crash mid-save never leaves the mirror
// ahead of disk.
func (c *VerificationCache) Save(ent *VerifiedEntitlements, tokenHash string) error {
	now := c.now()
	rec := &CacheRecord{
		LastVerifiedAt:      now.UTC(),
		LastVerifiedAtEpoch: float64(now.UnixNano()) / 1e9,
		LicenseHash:         tokenHash,
		Valid:               ent.Valid,
		Exp:                 ent.Exp,
		Tier:                ent.Tier,
		Features:            ent.Features,
		CustomerID:          ent.CustomerID,
		Organization:        ent.Organization,
		Seats:               ent.Seats,
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal verification cache: %w", err)
	}
	if dir := filepath.Dir(c.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	if err := c.writer.write(c.path, data); err != nil {
		return fmt.Errorf("write verification cache: %w", err)
	}

	c.mu.Lock()
	c.record = rec
	c.loaded = true
	c.mu.Unlock()

	c.logger.Debug("verification cache saved",
		slog.String("path", c.path),
		slog.String("license_hash", rec.LicenseHash[:min(16, len(rec.LicenseHash))]),
		slog.Bool("valid", rec.Valid))
	return nil
}

func cloneRecord(rec *CacheRecord) *CacheRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.Features = append([]string(nil), rec.Features...)
	return &out
}
