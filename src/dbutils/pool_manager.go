package dbutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/metrics"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	"github.com/newrelic/nri-mysql-collector/src/secrets"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
)

// ErrInstanceUnavailable means pool creation was given up for the instance; callers skip it.
var ErrInstanceUnavailable = errors.New("instance is unavailable")

// Opener opens a pool for a DSN.
type Opener func(dsn string, poolSize int) (utils.DataSource, error)

// PoolManager owns one connection pool per monitored instance.
type PoolManager struct {
	args       arguments.ArgumentList
	decrypter  secrets.Decrypter
	open       Opener
	maxRetries int
	retryDelay time.Duration
	poolSize   int

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	// held while the pool is created so that only callers of the same instance wait
	mu          sync.Mutex
	pool        utils.DataSource
	unavailable error
}

func NewPoolManager(args arguments.ArgumentList, decrypter secrets.Decrypter, open Opener) *PoolManager {
	if open == nil {
		open = utils.OpenDB
	}
	return &PoolManager{
		args:       args,
		decrypter:  decrypter,
		open:       open,
		maxRetries: GetValidMaxConnectionRetries(args.MaxConnectionRetries),
		retryDelay: time.Duration(GetValidRetryDelay(args.RetryDelay)) * time.Second,
		poolSize:   GetValidPoolSize(args.PoolSize),
		entries:    make(map[string]*poolEntry),
	}
}

// Get returns the cached pool of an instance, creating it on first use.
// Once creation attempts are exhausted it returns ErrInstanceUnavailable until Reset.
func (m *PoolManager) Get(ctx context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error) {
	entry := m.entry(instance.InstanceName)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.pool != nil {
		return entry.pool, nil
	}
	if entry.unavailable != nil {
		return nil, entry.unavailable
	}

	pool, err := m.create(ctx, instance)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		entry.unavailable = fmt.Errorf("%w: %s: %w", ErrInstanceUnavailable, instance.InstanceName, err)
		metrics.PoolUnavailable.WithLabelValues(instance.InstanceName).Set(1)
		return nil, entry.unavailable
	}
	entry.pool = pool
	metrics.PoolUnavailable.WithLabelValues(instance.InstanceName).Set(0)
	return pool, nil
}

func (m *PoolManager) entry(name string) *poolEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[name]
	if !ok {
		entry = &poolEntry{}
		m.entries[name] = entry
	}
	return entry
}

func (m *PoolManager) create(ctx context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error) {
	name := instance.InstanceName

	password, err := m.decrypter.Decrypt(instance.Password)
	if err != nil {
		log.Error("[%s] Could not decrypt the stored password, skipping this instance: %v", name, err)
		return nil, fmt.Errorf("error decrypting password: %w", err)
	}
	dsn := GenerateDSN(m.args, instance, password)

	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		pool, err := m.connect(ctx, dsn)
		if err == nil {
			log.Info("[%s] Connection pool created successfully", name)
			return pool, nil
		}
		lastErr = err
		log.Error("[%s] Attempt %d failed: %v", name, attempt, err)

		if attempt == m.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}

	log.Error("[%s] Maximum retry attempts reached. Skipping this instance.", name)
	return nil, lastErr
}

func (m *PoolManager) connect(ctx context.Context, dsn string) (utils.DataSource, error) {
	pool, err := m.open(dsn, m.poolSize)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, constants.TimeoutDuration)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting: %w", err)
	}
	return pool, nil
}

// Reset forgets an unavailable mark so that the next Get retries pool creation.
func (m *PoolManager) Reset(name string) {
	m.mu.Lock()
	entry, ok := m.entries[name]
	m.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.unavailable != nil {
		entry.unavailable = nil
		metrics.PoolUnavailable.WithLabelValues(name).Set(0)
	}
}

// Drop closes and forgets the pool of an instance.
func (m *PoolManager) Drop(name string) {
	m.mu.Lock()
	entry, ok := m.entries[name]
	delete(m.entries, name)
	m.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.pool != nil {
		entry.pool.Close()
		entry.pool = nil
		log.Info("[%s] Closed connection pool", name)
	}
}

// Close releases every pool. It must run after all users of the pools have stopped.
func (m *PoolManager) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Drop(name)
	}
}

func GetValidMaxConnectionRetries(retries int) int {
	if retries <= 0 {
		log.Warn("Max connection retries must be positive, using the default value of %d", constants.DefaultMaxConnectionRetries)
		return constants.DefaultMaxConnectionRetries
	}
	return retries
}

func GetValidRetryDelay(delay int) int {
	if delay < 0 {
		log.Warn("Retry delay cannot be negative, using the default value of %d", constants.DefaultRetryDelay)
		return constants.DefaultRetryDelay
	}
	return delay
}

func GetValidPoolSize(size int) int {
	if size <= 0 {
		log.Warn("Pool size must be positive, using the default value of %d", constants.DefaultPoolSize)
		return constants.DefaultPoolSize
	}
	return size
}
