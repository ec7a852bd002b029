// Package membership implements the Redis-backed cluster peer directory
// consumed by the node-role state machine (§4.4). Bedrock's own
// replicated-commit wire protocol is out of scope (§1 Non-goals); this
// directory only needs to carry the liveness/priority signal the role
// machine watches, so it is adapted from the reference framework's
// RedisRegistry self-healing service registration rather than from any
// consensus library.
package membership

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bedrockdb/bedrock/core"
)

// Peer is the tuple every node heartbeats into the directory (§4.4).
type Peer struct {
	NodeName    string `json:"node_name"`
	Priority    int    `json:"priority"`
	CommitIndex int64  `json:"commit_index"`
	Role        string `json:"role"`
	Address     string `json:"address"`
	UpdatedAt   int64  `json:"updated_at"` // unix seconds
}

// Directory is the self-registering, self-healing view of cluster peers.
type Directory struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger

	mu    sync.RWMutex
	state *Peer // last Peer this process heartbeated, for re-registration after a TTL-expiry hiccup
}

// NewDirectory dials redisURL and returns a Directory scoped to namespace
// (defaults to "bedrock" if empty).
func NewDirectory(redisURL, namespace string, ttl time.Duration) (*Directory, error) {
	if namespace == "" {
		namespace = "bedrock"
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("membership: invalid redis URL: %w", err)
	}
	return &Directory{
		client:    redis.NewClient(opt),
		namespace: namespace,
		ttl:       ttl,
		logger:    core.NoOpLogger{},
	}, nil
}

func (d *Directory) SetLogger(logger core.Logger) { d.logger = logger }

func (d *Directory) key(nodeName string) string {
	return fmt.Sprintf("%s:peers:%s", d.namespace, nodeName)
}

// Register publishes peer's current state with the directory's TTL and
// remembers it so StartHeartbeat can re-register after an expiry.
func (d *Directory) Register(ctx context.Context, peer Peer) error {
	peer.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("membership: marshal peer %s: %w", peer.NodeName, err)
	}
	if err := d.client.Set(ctx, d.key(peer.NodeName), data, d.ttl).Err(); err != nil {
		return fmt.Errorf("membership: register peer %s: %w", peer.NodeName, err)
	}

	d.mu.Lock()
	d.state = &peer
	d.mu.Unlock()
	return nil
}

// List returns every currently live peer.
func (d *Directory) List(ctx context.Context) ([]Peer, error) {
	pattern := fmt.Sprintf("%s:peers:*", d.namespace)
	keys, err := d.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("membership: list peers: %w", err)
	}

	peers := make([]Peer, 0, len(keys))
	for _, key := range keys {
		data, err := d.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between Keys and Get
		}
		if err != nil {
			return nil, fmt.Errorf("membership: get peer %s: %w", key, err)
		}
		var p Peer
		if err := json.Unmarshal(data, &p); err != nil {
			continue
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// Unregister removes this node's entry immediately (clean shutdown).
func (d *Directory) Unregister(ctx context.Context, nodeName string) error {
	return d.client.Del(ctx, d.key(nodeName)).Err()
}

// StartHeartbeat re-registers peer on the directory's TTL/2 cadence, with
// jitter to avoid thundering-herd refresh, and self-heals by re-publishing
// from the last known state if the key lapsed between heartbeats —
// mirroring the reference framework's StartHeartbeat/maintainRegistration
// pattern, applied to cluster liveness instead of service discovery.
func (d *Directory) StartHeartbeat(ctx context.Context, refresh func() Peer) {
	baseInterval := d.ttl / 2
	if baseInterval <= 0 {
		baseInterval = time.Second
	}
	interval := baseInterval + jitter(baseInterval/4)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				peer := refresh()
				if err := d.Register(ctx, peer); err != nil && d.logger != nil {
					d.logger.Warn("membership heartbeat failed, will retry next tick", map[string]interface{}{
						"node_name": peer.NodeName,
						"error":     err.Error(),
					})
				}
			}
		}
	}()
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
