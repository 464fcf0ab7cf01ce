package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/dgallion1/proxyvote/internal/filing"
	"github.com/dgallion1/proxyvote/internal/pathstore"
)

// KVStore keeps filings as pathstore nodes:
//
//	proxyvote/filings/{id}/meta
//	proxyvote/filings/{id}/matches/{ordinal}
//	proxyvote/filings/{id}/sections/{ordinal}
//	proxyvote/by_hash/{content_hash}/{id}
type KVStore struct {
	ps *pathstore.Client
}

func NewKVStore(ps *pathstore.Client) *KVStore {
	return &KVStore{ps: ps}
}

const kvRoot = "proxyvote"

func filingKey(id string) string { return kvRoot + "/filings/" + id }

func hashKey(hash string) string { return kvRoot + "/by_hash/" + hash }

// ordinalKey zero-pads so a prefix scan sorted by key keeps the order.
func ordinalKey(prefix string, i int) string { return fmt.Sprintf("%s/%06d", prefix, i) }

type kvSection struct {
	ID string `json:"id"`
	filing.Section
}

func (s *KVStore) SaveFiling(ctx context.Context, f FilingRecord) error {
	if err := s.ps.DeleteNode(ctx, filingKey(f.ID), true); err != nil {
		return err
	}
	if err := s.ps.PutNode(ctx, filingKey(f.ID)+"/meta", f); err != nil {
		return err
	}
	if f.ContentHash != "" {
		ref := map[string]any{"id": f.ID, "filename": f.Filename}
		if err := s.ps.PutNode(ctx, hashKey(f.ContentHash)+"/"+f.ID, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) SaveFundMatches(ctx context.Context, filingID string, matches []FundMatchRecord) error {
	prefix := filingKey(filingID) + "/matches"
	if err := s.ps.DeleteNode(ctx, prefix, true); err != nil {
		return err
	}
	for _, m := range matches {
		if err := s.ps.PutNode(ctx, ordinalKey(prefix, m.Ordinal), m); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) SaveSections(ctx context.Context, filingID string, sections []filing.Section) error {
	prefix := filingKey(filingID) + "/sections"
	if err := s.ps.DeleteNode(ctx, prefix, true); err != nil {
		return err
	}
	for i, sec := range sections {
		if err := s.ps.PutNode(ctx, ordinalKey(prefix, i), kvSection{ID: ulid.Make().String(), Section: sec}); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) GetFiling(ctx context.Context, id string) (*FilingRecord, error) {
	node, err := s.ps.GetNode(ctx, filingKey(id)+"/meta")
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNotFound
	}
	var f FilingRecord
	if err := node.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *KVStore) children(ctx context.Context, prefix string) ([]pathstore.Node, error) {
	nodes, err := s.ps.ListChildren(ctx, prefix, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Key < nodes[j].Key })
	return nodes, nil
}

func (s *KVStore) ListFundMatches(ctx context.Context, filingID string) ([]FundMatchRecord, error) {
	nodes, err := s.children(ctx, filingKey(filingID)+"/matches")
	if err != nil {
		return nil, err
	}
	out := make([]FundMatchRecord, 0, len(nodes))
	for _, n := range nodes {
		var m FundMatchRecord
		if err := n.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *KVStore) ListSections(ctx context.Context, filingID string) ([]filing.Section, error) {
	nodes, err := s.children(ctx, filingKey(filingID)+"/sections")
	if err != nil {
		return nil, err
	}
	out := make([]filing.Section, 0, len(nodes))
	for _, n := range nodes {
		var sec kvSection
		if err := n.Decode(&sec); err != nil {
			return nil, err
		}
		out = append(out, sec.Section)
	}
	return out, nil
}

func (s *KVStore) FindByHash(ctx context.Context, contentHash string) (string, error) {
	nodes, err := s.ps.ListChildren(ctx, hashKey(contentHash), 1)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", ErrNotFound
	}
	var ref struct {
		ID string `json:"id"`
	}
	if err := nodes[0].Decode(&ref); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (s *KVStore) DeleteFiling(ctx context.Context, id string) error {
	f, err := s.GetFiling(ctx, id)
	if err != nil {
		return err
	}
	if f.ContentHash != "" {
		if err := s.ps.DeleteNode(ctx, hashKey(f.ContentHash)+"/"+id, false); err != nil {
			return err
		}
	}
	return s.ps.DeleteNode(ctx, filingKey(id), true)
}

func (s *KVStore) Close() error {
	s.ps.Close()
	return nil
}
