package storage

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
)

// fakeTable keeps rows as decoded JSON objects keyed by partition and row.
// List filters support "Prop eq 'value'" clauses joined by "and".
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string]map[string]any
	pageSize int
	listErr  error
	writeErr error
	filters  []string
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string]map[string]any), pageSize: 2}
}

func rowID(pk, rk string) string { return pk + "\x00" + rk }

func responseError(code int) error {
	return &azcore.ResponseError{StatusCode: code, ErrorCode: http.StatusText(code)}
}

func decodeRow(entity []byte) (map[string]any, string, error) {
	var row map[string]any
	if err := sonic.Unmarshal(entity, &row); err != nil {
		return nil, "", err
	}
	pk, _ := row["PartitionKey"].(string)
	rk, _ := row["RowKey"].(string)
	if pk == "" || rk == "" {
		return nil, "", errors.New("missing keys")
	}
	return row, rowID(pk, rk), nil
}

func matches(row map[string]any, filter string) bool {
	if filter == "" {
		return true
	}
	for _, clause := range strings.Split(filter, " and ") {
		parts := strings.SplitN(clause, " eq ", 2)
		if len(parts) != 2 {
			return false
		}
		want := strings.ReplaceAll(strings.Trim(parts[1], "'"), "''", "'")
		if got, _ := row[parts[0]].(string); got != want {
			return false
		}
	}
	return true
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	filter := ""
	if opts != nil && opts.Filter != nil {
		filter = *opts.Filter
	}
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	keys := make([]string, 0, len(f.rows))
	for k := range f.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var matched [][]byte
	for _, k := range keys {
		if matches(f.rows[k], filter) {
			data, _ := sonic.Marshal(f.rows[k])
			matched = append(matched, data)
		}
	}
	listErr := f.listErr
	size := f.pageSize
	f.mu.Unlock()

	next := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool {
			return next < len(matched)
		},
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if listErr != nil {
				return aztables.ListEntitiesResponse{}, listErr
			}
			end := next + size
			if end > len(matched) {
				end = len(matched)
			}
			page := matched[next:end]
			next = end
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound)
	}
	data, err := sonic.Marshal(row)
	if err != nil {
		return aztables.GetEntityResponse{}, err
	}
	return aztables.GetEntityResponse{Value: data}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return aztables.AddEntityResponse{}, f.writeErr
	}
	row, id, err := decodeRow(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	if _, exists := f.rows[id]; exists {
		return aztables.AddEntityResponse{}, responseError(http.StatusConflict)
	}
	f.rows[id] = row
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return aztables.UpdateEntityResponse{}, f.writeErr
	}
	if opts == nil || opts.IfMatch == nil {
		return aztables.UpdateEntityResponse{}, errors.New("update without IfMatch")
	}
	row, id, err := decodeRow(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	existing, ok := f.rows[id]
	if !ok {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusNotFound)
	}
	if opts.UpdateMode != aztables.UpdateModeMerge {
		existing = map[string]any{}
	}
	for k, v := range row {
		existing[k] = v
	}
	f.rows[id] = existing
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, _ *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return aztables.UpsertEntityResponse{}, f.writeErr
	}
	row, id, err := decodeRow(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.rows[id] = row
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (q *fakeQueue) EnqueueMessage(ctx context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return azqueue.EnqueueMessagesResponse{}, q.err
	}
	q.messages = append(q.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

type fakeTables struct {
	tasks, movements, workspaces, members, profiles *fakeTable
	queue                                           *fakeQueue
}

func newTestStorage() (*Storage, *fakeTables, *test.Hook) {
	logger, hook := test.NewNullLogger()
	ft := &fakeTables{
		tasks:      newFakeTable(),
		movements:  newFakeTable(),
		workspaces: newFakeTable(),
		members:    newFakeTable(),
		profiles:   newFakeTable(),
		queue:      &fakeQueue{},
	}
	s := &Storage{
		taskTable:      ft.tasks,
		movementTable:  ft.movements,
		workspaceTable: ft.workspaces,
		memberTable:    ft.members,
		profileTable:   ft.profiles,
		exportQueue:    ft.queue,
		logger:         logger,
	}
	return s, ft, hook
}
