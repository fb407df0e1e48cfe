package notify

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// ProjectionPartition is the partition key of every board index row.
const ProjectionPartition = "boards"

const edmDateTime = "Edm.DateTime"

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

type tableClient interface {
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
}

var retryOptions = policy.RetryOptions{
	MaxRetries:    3,
	TryTimeout:    time.Minute,
	RetryDelay:    time.Second,
	MaxRetryDelay: 15 * time.Second,
	StatusCodes:   []int{408, 429, 500, 502, 503, 504},
}

// Queue enqueues each notice as a JSON message.
type Queue struct {
	client queueClient
}

func NewQueue(client queueClient) *Queue { return &Queue{client: client} }

// NewQueueFromConnectionString connects to an Azure storage queue.
func NewQueueFromConnectionString(connStr, queueName string) (*Queue, error) {
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: retryOptions},
	})
	if err != nil {
		return nil, err
	}
	return NewQueue(qc), nil
}

func (q *Queue) Notify(ctx context.Context, n domain.ChangeNotice) error {
	data, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, string(data), nil)
	return err
}

type boardEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Title         string `json:"Title"`
	Version       string `json:"Version"`
	UpdatedAt     string `json:"UpdatedAt"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
	LastNotice    string `json:"LastNotice"`
}

// Projection keeps one table row per board with its latest title and
// version.
type Projection struct {
	client tableClient
}

func NewProjection(client tableClient) *Projection { return &Projection{client: client} }

// NewProjectionFromConnectionString connects to an Azure table.
func NewProjectionFromConnectionString(connStr, tableName string) (*Projection, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{Retry: retryOptions},
	})
	if err != nil {
		return nil, err
	}
	return NewProjection(svc.NewClient(tableName)), nil
}

func (p *Projection) Notify(ctx context.Context, n domain.ChangeNotice) error {
	payload, err := sonic.Marshal(boardEntity{
		PartitionKey:  ProjectionPartition,
		RowKey:        n.BoardID,
		Title:         n.Title,
		Version:       n.Version,
		UpdatedAt:     n.At.UTC().Format(time.RFC3339Nano),
		UpdatedAtType: edmDateTime,
		LastNotice:    n.ID,
	})
	if err != nil {
		return err
	}
	_, err = p.client.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}
