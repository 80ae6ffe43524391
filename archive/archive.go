// Package archive persists batch reports in a blob store so finished runs can be fetched later.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/klejdi94/synthpanel/batch"
	"github.com/klejdi94/synthpanel/core"
)

// ErrNotFound is returned when no report exists for a run id.
var ErrNotFound = errors.New("archive: not found")

// BlobStore is a minimal key-value store for S3-compatible backends (e.g. AWS S3, MinIO),
// the local filesystem or memory. Get returns an error matching ErrNotFound for missing keys.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// Archive stores reports under prefix/runs/{run_id}.json and analyst conversations under
// prefix/chats/{run_id}.json.
type Archive struct {
	store      BlobStore
	prefix     string
	chatPrefix string

	// chatMu serialises conversation appends within this process.
	chatMu sync.Mutex
}

// New creates an archive over store. prefix may be empty.
func New(store BlobStore, prefix string) *Archive {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Archive{store: store, prefix: prefix + "runs/", chatPrefix: prefix + "chats/"}
}

func (a *Archive) key(runID string) string { return a.prefix + runID + ".json" }

func checkRunID(runID string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return &core.ValidationError{Field: "run_id", Value: runID, Message: "not a valid run id"}
	}
	return nil
}

// Save writes r, replacing any report with the same run id.
func (a *Archive) Save(ctx context.Context, r *batch.Report) error {
	if r == nil {
		return &core.ValidationError{Field: "report", Message: "report is nil"}
	}
	if err := checkRunID(r.RunID); err != nil {
		return err
	}
	data, err := sonic.Marshal(r)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", r.RunID, err)
	}
	if err := a.store.Put(ctx, a.key(r.RunID), data); err != nil {
		return fmt.Errorf("archive: save %s: %w", r.RunID, err)
	}
	return nil
}

// Load fetches the report of runID.
func (a *Archive) Load(ctx context.Context, runID string) (*batch.Report, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}
	data, err := a.store.Get(ctx, a.key(runID))
	if err != nil {
		return nil, fmt.Errorf("archive: load %s: %w", runID, err)
	}
	var r batch.Report
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", runID, err)
	}
	return &r, nil
}

// List returns the archived run ids in lexical order.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	keys, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id, ok := strings.CutSuffix(strings.TrimPrefix(k, a.prefix), ".json")
		if !ok || strings.Contains(id, "/") {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the report of runID and its conversation.
func (a *Archive) Delete(ctx context.Context, runID string) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	if err := a.store.Delete(ctx, a.key(runID)); err != nil {
		return fmt.Errorf("archive: delete %s: %w", runID, err)
	}
	if err := a.store.Delete(ctx, a.chatKey(runID)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("archive: delete chat %s: %w", runID, err)
	}
	return nil
}
