package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/query"
)

// Snapshot is a file-backed image of a cache: a list of entries, each under a
// raw key or a readable KeyDoc.
//
//	entries:
//	  - key: {table: contact, query: "select=id,name", order_by: "name:asc"}
//	    value: [{id: 1, name: Ada}]
//	  - raw: "repo::public::users::GetByID::1"
//	    value: {id: 1}
type Snapshot struct {
	Entries []Entry `yaml:"entries" json:"entries"`
}

// Entry is one cached value.
type Entry struct {
	Raw     string  `yaml:"raw,omitempty" json:"raw,omitempty"`
	Key     *KeyDoc `yaml:"key,omitempty" json:"key,omitempty"`
	Value   any     `yaml:"value" json:"value"`
	Evicted bool    `yaml:"evicted,omitempty" json:"evicted,omitempty"`
}

// ReadSnapshot decodes a YAML or JSON snapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "decode snapshot")
	}
	for i, e := range s.Entries {
		if e.Raw == "" && e.Key == nil {
			return nil, goerrors.New(fmt.Sprintf("snapshot entry %d has neither raw nor key", i), goerrors.CategoryValidation)
		}
		if e.Key != nil && e.Key.Table == "" {
			return nil, goerrors.New(fmt.Sprintf("snapshot entry %d has a key without a table", i), goerrors.CategoryValidation)
		}
	}
	return &s, nil
}

// LoadSnapshot reads the snapshot file at path.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// RawKeys returns the encoded key of every entry, in file order.
func (s *Snapshot) RawKeys(codec query.Codec) []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.raw(codec)
	}
	return out
}

func (e Entry) raw(codec query.Codec) string {
	if e.Key != nil {
		return codec.Encode(e.Key.toKey())
	}
	return e.Raw
}

// Seed writes every entry into store.
func (s *Snapshot) Seed(ctx context.Context, store cache.Store, codec query.Codec) error {
	for _, e := range s.Entries {
		if err := store.Set(ctx, e.raw(codec), e.Value); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryExternal, "seed "+e.raw(codec))
		}
	}
	return nil
}

// Capture reads keys from store into a snapshot. Keys that decode as query
// keys are written in readable form. Keys missing from the store are marked
// evicted.
func Capture(ctx context.Context, store cache.Store, codec query.Codec, keys []string) (*Snapshot, error) {
	s := &Snapshot{Entries: make([]Entry, 0, len(keys))}
	for _, raw := range keys {
		v, ok, err := store.Get(ctx, raw)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "read "+raw)
		}
		e := Entry{Value: v, Evicted: !ok}
		if key, ok := codec.Decode(raw); ok {
			doc := keyDoc(*key)
			e.Key = &doc
		} else {
			e.Raw = raw
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}
