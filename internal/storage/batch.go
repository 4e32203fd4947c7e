package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// MutationKind identifies a batched write.
type MutationKind int

const (
	MutationCreate MutationKind = iota + 1
	MutationUpdate
	MutationDelete
)

// Mutation is one write recorded in a batch.
type Mutation struct {
	Kind       MutationKind
	Collection string
	ID         string
	Fields     Fields
	Pre        Precondition
}

// Mutations records batched writes. Adapters embed it and implement Commit.
type Mutations struct {
	list []Mutation
}

func (m *Mutations) Create(collection, id string, fields Fields) {
	m.list = append(m.list, Mutation{Kind: MutationCreate, Collection: collection, ID: id, Fields: fields})
}

func (m *Mutations) Update(collection, id string, fields Fields, pre Precondition) {
	m.list = append(m.list, Mutation{Kind: MutationUpdate, Collection: collection, ID: id, Fields: fields, Pre: pre})
}

func (m *Mutations) Delete(collection, id string, pre Precondition) {
	m.list = append(m.list, Mutation{Kind: MutationDelete, Collection: collection, ID: id, Pre: pre})
}

// List returns the recorded writes in order.
func (m *Mutations) List() []Mutation { return m.list }

// Validate checks ids and field names of every recorded write.
func (m *Mutations) Validate() error {
	for _, mu := range m.list {
		if mu.Collection == "" || mu.ID == "" {
			return fmt.Errorf("%w: empty collection or id", ErrInvalidQuery)
		}
		for name := range mu.Fields {
			if !ValidField(name) {
				return fmt.Errorf("%w: field %q", ErrInvalidQuery, name)
			}
		}
	}
	return nil
}

// AddWith implements DocStore.Add on top of a batch.
func AddWith(ctx context.Context, b Batch, collection string, fields Fields) (string, error) {
	id := NewID()
	b.Create(collection, id, fields)
	if err := b.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateWith implements DocStore.Update on top of a batch.
func UpdateWith(ctx context.Context, b Batch, collection, id string, fields Fields) error {
	b.Update(collection, id, fields, Precondition{})
	return b.Commit(ctx)
}

// Normalize converts fields to their JSON-compatible form by round-tripping
// them through encoding/json.
func Normalize(fields Fields) (Fields, error) {
	if fields == nil {
		return Fields{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return out, nil
}

// Merge returns a copy of base with patch applied on top.
func Merge(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
