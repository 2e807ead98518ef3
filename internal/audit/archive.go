// Package audit archives committed allocation plans as JSON documents in a
// blob store, one document per cut or recut.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cutledger/internal/blob"
	"cutledger/internal/fabric"
	"cutledger/pkg/domain"
)

// Prefix is the key prefix of every allocation record.
const Prefix = "allocations/"

// AllocationRecord is the archived form of one committed plan.
type AllocationRecord struct {
	OrderID        string              `json:"order_id"`
	OrderCode      string              `json:"order_code"`
	Article        domain.ArticleKey   `json:"article"`
	Kind           fabric.PlanKind     `json:"kind"`
	Demand         decimal.Decimal     `json:"demand"`
	Lines          []fabric.PlanLine   `json:"lines"`
	NewActualTotal decimal.Decimal     `json:"new_actual_total"`
	Recuts         []domain.RecutEntry `json:"recuts,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`
	CommittedAt    time.Time           `json:"committed_at"`
}

// Key returns the blob key of the record:
// allocations/<article>/<order>/<unix-nanos>-<kind>.json.
func (r AllocationRecord) Key() string {
	return fmt.Sprintf("%s%s/%s/%d-%s.json", Prefix, keySegment(string(r.Article)), keySegment(r.OrderID), r.CommittedAt.UnixNano(), r.Kind)
}

// keySegment keeps article and order values from introducing extra path
// levels.
func keySegment(s string) string {
	s = strings.NewReplacer("/", "_", "..", "_", " ", "_").Replace(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	return s
}

// Archive writes and reads allocation records.
type Archive struct {
	store blob.Store
}

// NewArchive wraps store.
func NewArchive(store blob.Store) *Archive {
	return &Archive{store: store}
}

// Record stores rec and returns its key.
func (a *Archive) Record(ctx context.Context, rec AllocationRecord) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode allocation record: %w", err)
	}
	key := rec.Key()
	_, err = a.store.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"order":   rec.OrderID,
			"article": string(rec.Article),
			"kind":    string(rec.Kind),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}
	return key, nil
}

// List returns the records of article, optionally narrowed to one order,
// in commit order. An empty article lists everything.
func (a *Archive) List(ctx context.Context, article domain.ArticleKey, orderID string) ([]AllocationRecord, error) {
	prefix := Prefix
	if article != "" {
		prefix += keySegment(string(article)) + "/"
		if orderID != "" {
			prefix += keySegment(orderID) + "/"
		}
	}
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := make([]AllocationRecord, 0, len(infos))
	for _, info := range infos {
		rec, err := a.read(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *Archive) read(ctx context.Context, key string) (AllocationRecord, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return AllocationRecord{}, fmt.Errorf("read %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	if err != nil {
		return AllocationRecord{}, fmt.Errorf("read %s: %w", key, err)
	}
	var rec AllocationRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return AllocationRecord{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}
