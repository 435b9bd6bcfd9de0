package graph

import (
	"fmt"
	"maps"
	"reflect"
	"sort"
)

// State is the shared value a workflow evolves. Step functions receive
// a private copy and return a partial update; they never mutate state
// seen by other branches.
type State map[string]any

// Reducer combines the current value of a field with a step's update
// and returns the merged value.
type Reducer func(current, incoming any) (any, error)

// Schema declares the merge policy of a graph's state: which fields
// are folded through a reducer and which are simply overwritten.
// Fields without a reducer default to overwrite, except when two
// nodes of the same step write the field, which is a merge conflict.
type Schema struct {
	Reducers map[string]Reducer
}

// NewSchema creates an empty schema where every field overwrites.
func NewSchema() *Schema {
	return &Schema{Reducers: make(map[string]Reducer)}
}

// RegisterReducer sets the reducer for a field.
func (s *Schema) RegisterReducer(field string, r Reducer) *Schema {
	s.Reducers[field] = r
	return s
}

// has reports whether the field merges through a reducer.
func (s *Schema) has(field string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Reducers[field]
	return ok
}

// apply folds a single update into the state, in place.
func (s *Schema) apply(state State, field string, value any) error {
	if s.has(field) {
		merged, err := s.Reducers[field](state[field], value)
		if err != nil {
			return fmt.Errorf("reduce field %s: %w", field, err)
		}
		state[field] = merged
		return nil
	}
	state[field] = value
	return nil
}

// CloneState returns a shallow copy. Field values are shared, which is
// safe as long as step bodies treat them as immutable and communicate
// only through their returned updates.
func CloneState(state State) State {
	out := make(State, len(state))
	maps.Copy(out, state)
	return out
}

// stepUpdate is one node's contribution to a superstep.
type stepUpdate struct {
	node   string
	update State
}

// mergeStepUpdates folds the updates of one superstep into a new
// state. Updates are applied in node order so the result is
// independent of goroutine scheduling. Two updates touching the same
// field fail with MergeConflictError unless the field has a reducer.
func (s *Schema) mergeStepUpdates(state State, updates []stepUpdate) (State, error) {
	sort.Slice(updates, func(i, j int) bool { return updates[i].node < updates[j].node })

	next := CloneState(state)
	writtenBy := make(map[string][]string)
	for _, u := range updates {
		for _, fv := range sortedFields(u.update) {
			writtenBy[fv.key] = append(writtenBy[fv.key], u.node)
			if len(writtenBy[fv.key]) > 1 && !s.has(fv.key) {
				return nil, &MergeConflictError{Field: fv.key, Nodes: writtenBy[fv.key]}
			}
			if err := s.apply(next, fv.key, fv.val); err != nil {
				return nil, err
			}
		}
	}
	return next, nil
}

type fieldValue struct {
	key string
	val any
}

// sortedFields yields a map's entries in key order, keeping the merge
// deterministic when a single update carries several fields.
func sortedFields(m State) []fieldValue {
	out := make([]fieldValue, 0, len(m))
	for k, v := range m {
		out = append(out, fieldValue{key: k, val: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Built-in reducers.

// Overwrite replaces the current value with the incoming one.
func Overwrite(current, incoming any) (any, error) {
	return incoming, nil
}

// Append concatenates the incoming value onto the current slice. A
// non-slice incoming value is appended as a single element; a nil
// current value starts a fresh slice.
func Append(current, incoming any) (any, error) {
	if current == nil {
		nv := reflect.ValueOf(incoming)
		if nv.Kind() == reflect.Slice {
			return incoming, nil
		}
		slice := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(incoming)), 0, 1)
		return reflect.Append(slice, nv).Interface(), nil
	}

	cv := reflect.ValueOf(current)
	if cv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("append: current value is %T, not a slice", current)
	}

	nv := reflect.ValueOf(incoming)
	if nv.Kind() == reflect.Slice {
		if cv.Type().Elem() != nv.Type().Elem() {
			// Mixed element types fall back to []any.
			out := make([]any, 0, cv.Len()+nv.Len())
			for i := 0; i < cv.Len(); i++ {
				out = append(out, cv.Index(i).Interface())
			}
			for i := 0; i < nv.Len(); i++ {
				out = append(out, nv.Index(i).Interface())
			}
			return out, nil
		}
		return reflect.AppendSlice(cv, nv).Interface(), nil
	}
	return reflect.Append(cv, nv).Interface(), nil
}

// Sum adds numeric values. Integers and floats mix freely; the result
// is float64 when either side is a float.
func Sum(current, incoming any) (any, error) {
	if current == nil {
		return incoming, nil
	}
	ci, cOK := toInt64(current)
	ni, nOK := toInt64(incoming)
	if cOK && nOK {
		return ci + ni, nil
	}
	cf, cOK := toFloat64(current)
	nf, nOK := toFloat64(incoming)
	if !cOK || !nOK {
		return nil, fmt.Errorf("sum: cannot add %T and %T", current, incoming)
	}
	return cf + nf, nil
}

// Max keeps the larger numeric value.
func Max(current, incoming any) (any, error) {
	if current == nil {
		return incoming, nil
	}
	cf, cOK := toFloat64(current)
	nf, nOK := toFloat64(incoming)
	if !cOK || !nOK {
		return nil, fmt.Errorf("max: cannot compare %T and %T", current, incoming)
	}
	if nf > cf {
		return incoming, nil
	}
	return current, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
