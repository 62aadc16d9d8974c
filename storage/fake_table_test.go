package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// fakeTable is an in-memory table that understands the filters Storage
// issues.
// Every write bumps the row's ETag; when clock is set it also stamps the
// Timestamp property the way the service does.
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string]map[string]any
	etags    map[string]int
	failRows map[string]bool
	inFlight int
	max      int
	sleep    time.Duration
	clock    func() time.Time
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]any{}, etags: map[string]int{}, failRows: map[string]bool{}}
}

// touch must be called with mu held.
func (f *fakeTable) touch(id string) {
	f.etags[id]++
	if f.clock != nil {
		f.rows[id]["Timestamp"] = f.clock().UTC().Format(time.RFC3339Nano)
	}
}

func (f *fakeTable) etag(id string) azcore.ETag {
	return azcore.ETag(fmt.Sprintf("W/\"%d\"", f.etags[id]))
}

func rowID(pk, rk string) string { return pk + "/" + rk }

func notFound() error {
	return &azcore.ResponseError{StatusCode: 404, ErrorCode: "ResourceNotFound"}
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, notFound()
	}
	data, err := json.Marshal(row)
	return aztables.GetEntityResponse{ETag: f.etag(rowID(pk, rk)), Value: data}, err
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	var row map[string]any
	if err := json.Unmarshal(entity, &row); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rowID(row["PartitionKey"].(string), row["RowKey"].(string))
	if _, ok := f.rows[id]; ok {
		return aztables.AddEntityResponse{}, &azcore.ResponseError{StatusCode: 409, ErrorCode: "EntityAlreadyExists"}
	}
	f.rows[id] = row
	f.touch(id)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	var patch map[string]any
	if err := json.Unmarshal(entity, &patch); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	id := rowID(patch["PartitionKey"].(string), patch["RowKey"].(string))

	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.mu.Unlock()
	if f.sleep > 0 {
		time.Sleep(f.sleep)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	if f.failRows[id] {
		return aztables.UpdateEntityResponse{}, fmt.Errorf("update %s failed", id)
	}
	row, ok := f.rows[id]
	if !ok {
		return aztables.UpdateEntityResponse{}, notFound()
	}
	if o != nil && o.IfMatch != nil && *o.IfMatch != azcore.ETagAny && *o.IfMatch != f.etag(id) {
		return aztables.UpdateEntityResponse{}, &azcore.ResponseError{StatusCode: 412, ErrorCode: "UpdateConditionNotSatisfied"}
	}
	for k, v := range patch {
		row[k] = v
	}
	f.touch(id)
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := rowID(pk, rk)
	if _, ok := f.rows[id]; !ok {
		return aztables.DeleteEntityResponse{}, notFound()
	}
	delete(f.rows, id)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	filter := ""
	if o != nil && o.Filter != nil {
		filter = *o.Filter
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return f.query(filter)
		},
	})
}

func (f *fakeTable) query(filter string) (aztables.ListEntitiesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.rows))
	for id := range f.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var resp aztables.ListEntitiesResponse
	for _, id := range ids {
		row := f.rows[id]
		if !matches(row, filter) {
			continue
		}
		data, err := json.Marshal(row)
		if err != nil {
			return resp, err
		}
		resp.Entities = append(resp.Entities, data)
	}
	return resp, nil
}

// matches evaluates the subset of OData Storage relies on: eq and ne
// clauses joined by and/or, with '' escaping inside string literals.
func matches(row map[string]any, filter string) bool {
	if filter == "" {
		return true
	}
	for _, alt := range splitOutsideQuotes(filter, " or ") {
		all := true
		for _, clause := range splitOutsideQuotes(alt, " and ") {
			if !matchClause(row, clause) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func matchClause(row map[string]any, clause string) bool {
	for _, op := range []string{" eq ", " ne "} {
		parts := splitOutsideQuotes(clause, op)
		if len(parts) != 2 {
			continue
		}
		want, ok := literal(parts[1])
		if !ok {
			return false
		}
		equal := fmt.Sprint(row[parts[0]]) == want
		return equal == (op == " eq ")
	}
	return false
}

// literal decodes 'text' or an integer with an optional L suffix.
func literal(v string) (string, bool) {
	if !strings.HasPrefix(v, "'") {
		return strings.TrimSuffix(v, "L"), !strings.Contains(v, "'")
	}
	if len(v) < 2 || !strings.HasSuffix(v, "'") {
		return "", false
	}
	body := v[1 : len(v)-1]
	if strings.Count(strings.ReplaceAll(body, "''", ""), "'") != 0 {
		return "", false
	}
	return strings.ReplaceAll(body, "''", "'"), true
}

func splitOutsideQuotes(s, sep string) []string {
	var (
		out     []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			inQuote = !inQuote
			continue
		}
		if !inQuote && strings.HasPrefix(s[i:], sep) {
			out = append(out, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(out, s[start:])
}

func (f *fakeTable) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fixedSequence struct {
	mu   sync.Mutex
	next int64
}

func (s *fixedSequence) Next(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return s.next, nil
}

func newTestStorage() (*Storage, *fakeTable, *fakeTable, *fakeTable, *fakeTable) {
	boards, lists, cards, comments := newFakeTable(), newFakeTable(), newFakeTable(), newFakeTable()
	s := &Storage{
		boardTable:   boards,
		listTable:    lists,
		cardTable:    cards,
		commentTable: comments,
		ids:          &fixedSequence{next: 100},
		now:          func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	return s, boards, lists, cards, comments
}
