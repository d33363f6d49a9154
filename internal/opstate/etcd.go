package opstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/roach88/triad/internal/model"
)

// DefaultEtcdPrefix namespaces every key written by EtcdRepository.
const DefaultEtcdPrefix = "/triad/v1"

// EtcdConfig configures an EtcdRepository.
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	// Prefix overrides DefaultEtcdPrefix, e.g. to isolate test runs.
	Prefix string
}

// EtcdRepository implements Repository against etcd. Operations live under
// <prefix>/operations/<id>; each live idempotency key is a separate
// <prefix>/idempotency/<key> entry holding the owning operation id, so the
// uniqueness check and the insert commit in one transaction.
type EtcdRepository struct {
	client *clientv3.Client
	prefix string
}

var _ Repository = (*EtcdRepository)(nil)

// OpenEtcd dials the etcd cluster. The caller must call Close when finished.
func OpenEtcd(cfg EtcdConfig) (*EtcdRepository, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("opstate: etcd endpoints are required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultEtcdPrefix
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd dial: %w", err)
	}
	return &EtcdRepository{client: client, prefix: strings.TrimSuffix(cfg.Prefix, "/")}, nil
}

func (r *EtcdRepository) opKey(id string) string {
	return r.prefix + "/operations/" + id
}

func (r *EtcdRepository) idemKey(key string) string {
	return r.prefix + "/idempotency/" + key
}

func (r *EtcdRepository) Create(ctx context.Context, op *model.OperationState) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ok := r.opKey(op.ID)
	cmps := []clientv3.Cmp{clientv3.Compare(clientv3.Version(ok), "=", 0)}
	puts := []clientv3.Op{clientv3.OpPut(ok, string(data))}
	if holdsKey(op) {
		ik := r.idemKey(op.IdempotencyKey)
		cmps = append(cmps, clientv3.Compare(clientv3.Version(ik), "=", 0))
		puts = append(puts, clientv3.OpPut(ik, op.ID))
	}

	resp, err := r.client.Txn(ctx).If(cmps...).Then(puts...).Commit()
	if err != nil {
		return fmt.Errorf("etcd txn create %q: %w", ok, err)
	}
	if resp.Succeeded {
		return nil
	}
	if holdsKey(op) {
		got, err := r.client.Get(ctx, r.idemKey(op.IdempotencyKey))
		if err == nil && len(got.Kvs) > 0 {
			return fmt.Errorf("idempotency key %q: %w", op.IdempotencyKey, model.ErrDuplicateIntent)
		}
	}
	return fmt.Errorf("operation %s already exists", op.ID)
}

func (r *EtcdRepository) Get(ctx context.Context, id string) (*model.OperationState, error) {
	resp, err := r.client.Get(ctx, r.opKey(id))
	if err != nil {
		return nil, fmt.Errorf("etcd get %q: %w", r.opKey(id), err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrOperationNotFound)
	}
	var op model.OperationState
	if err := json.Unmarshal(resp.Kvs[0].Value, &op); err != nil {
		return nil, fmt.Errorf("unmarshal %q: %w", r.opKey(id), err)
	}
	return &op, nil
}

func (r *EtcdRepository) FindByIdempotencyKey(ctx context.Context, key string) (*model.OperationState, error) {
	resp, err := r.client.Get(ctx, r.idemKey(key))
	if err != nil {
		return nil, fmt.Errorf("etcd get %q: %w", r.idemKey(key), err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("idempotency key %q: %w", key, model.ErrOperationNotFound)
	}
	return r.Get(ctx, string(resp.Kvs[0].Value))
}

func (r *EtcdRepository) Save(ctx context.Context, op *model.OperationState) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ok := r.opKey(op.ID)
	resp, err := r.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(ok), ">", 0)).
		Then(clientv3.OpPut(ok, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("etcd txn save %q: %w", ok, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("operation %s: %w", op.ID, model.ErrOperationNotFound)
	}

	if op.IdempotencyKey != "" && op.Phase == model.PhaseFailed {
		// Release the key only if this operation still owns it.
		ik := r.idemKey(op.IdempotencyKey)
		_, err := r.client.Txn(ctx).
			If(clientv3.Compare(clientv3.Value(ik), "=", op.ID)).
			Then(clientv3.OpDelete(ik)).
			Commit()
		if err != nil {
			return fmt.Errorf("etcd release %q: %w", ik, err)
		}
	}
	return nil
}

func (r *EtcdRepository) ListByPhase(ctx context.Context, phases ...model.Phase) ([]model.OperationState, error) {
	pfx := r.prefix + "/operations/"
	resp, err := r.client.Get(ctx, pfx, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd list %q: %w", pfx, err)
	}
	want := phaseSet(phases)
	var out []model.OperationState
	for _, kv := range resp.Kvs {
		var op model.OperationState
		if err := json.Unmarshal(kv.Value, &op); err != nil {
			return nil, fmt.Errorf("unmarshal %q: %w", string(kv.Key), err)
		}
		if want[op.Phase] {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close releases the underlying etcd client connection.
func (r *EtcdRepository) Close() error {
	return r.client.Close()
}
