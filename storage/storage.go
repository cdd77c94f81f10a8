package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// ErrConflict is returned when a row that must be created once already
// exists.
var ErrConflict = errors.New("entity already exists")

type tableClient interface {
	NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	GetEntity(ctx context.Context, partitionKey, rowKey string, opts *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, opts *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, opts *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Tables names the tables and queue used by the store.
type Tables struct {
	Tasks       string
	Movements   string
	Workspaces  string
	Members     string
	Profiles    string
	ExportQueue string
}

// Storage provides access to the Azure tables holding tasks, the movement
// log and the workspace directory.
type Storage struct {
	taskTable      tableClient
	movementTable  tableClient
	workspaceTable tableClient
	memberTable    tableClient
	profileTable   tableClient
	exportQueue    queueClient
	logger         *log.Logger
}

func tablesRetryOptions() policy.RetryOptions {
	return policy.RetryOptions{
		MaxRetries:    3,
		TryTimeout:    time.Minute * 3,
		RetryDelay:    time.Second * 1,
		MaxRetryDelay: time.Second * 15,
		StatusCodes:   []int{408, 429, 500, 502, 503, 504},
	}
}

func queueRetryOptions() policy.RetryOptions {
	return policy.RetryOptions{
		MaxRetries:    5,
		TryTimeout:    time.Minute * 5,
		RetryDelay:    time.Second * 1,
		MaxRetryDelay: time.Second * 60,
		StatusCodes:   []int{408, 429, 500, 502, 503, 504},
	}
}

// New creates a Storage instance from the given connection string. The
// export queue is optional.
func New(connStr string, names Tables, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: tablesRetryOptions()},
	})
	if err != nil {
		return nil, err
	}
	s := &Storage{
		taskTable:      svc.NewClient(names.Tasks),
		movementTable:  svc.NewClient(names.Movements),
		workspaceTable: svc.NewClient(names.Workspaces),
		memberTable:    svc.NewClient(names.Members),
		profileTable:   svc.NewClient(names.Profiles),
		logger:         logger,
	}
	if names.ExportQueue != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, names.ExportQueue, &azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{Retry: queueRetryOptions()},
		})
		if err != nil {
			return nil, err
		}
		s.exportQueue = q
	}
	return s, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// listAll drains a list pager, decoding every entity with decode.
func listAll(ctx context.Context, table tableClient, filter string, decode func([]byte) error) error {
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, e := range resp.Entities {
			if err := decode(e); err != nil {
				return err
			}
		}
	}
	return nil
}
