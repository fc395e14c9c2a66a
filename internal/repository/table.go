package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todoapp/internal/models"
	"todoapp/pkg/logger"
)

// TableStore keeps task records in an Azure Storage table.
type TableStore struct {
	client   *aztables.Client
	pageSize int32
}

// NewTableStore creates a TableStore for the given table from a storage connection string.
func NewTableStore(connStr, table string, pageSize int) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	return &TableStore{client: svc.NewClient(table), pageSize: int32(pageSize)}, nil
}

type taskEntity struct {
	aztables.Entity
	TaskDescription string `json:"TaskDescription"`
	IsCompleted     bool   `json:"IsCompleted"`
	// Present on listed entities when the service returns minimal metadata.
	ODataETag string `json:"odata.etag,omitempty"`
}

func encodeEntity(rec models.TaskRecord) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity: aztables.Entity{
			PartitionKey: rec.PartitionKey,
			RowKey:       rec.RowKey,
		},
		TaskDescription: rec.TaskDescription,
		IsCompleted:     rec.IsCompleted,
	})
}

func decodeEntity(data []byte, etag azcore.ETag) (models.TaskRecord, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return models.TaskRecord{}, err
	}
	if etag == "" {
		etag = azcore.ETag(ent.ODataETag)
	}
	return models.TaskRecord{
		PartitionKey:    ent.PartitionKey,
		RowKey:          ent.RowKey,
		TaskDescription: ent.TaskDescription,
		IsCompleted:     ent.IsCompleted,
		ETag:            string(etag),
	}, nil
}

// tableError translates service status codes into the package's sentinel errors.
func tableError(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch respErr.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case http.StatusConflict:
		if respErr.ErrorCode == string(aztables.EntityAlreadyExists) {
			return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
	}
	return err
}

func (s *TableStore) Insert(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	payload, err := encodeEntity(rec)
	if err != nil {
		return models.TaskRecord{}, err
	}
	resp, err := s.client.AddEntity(ctx, payload, nil)
	if err != nil {
		return models.TaskRecord{}, tableError(err)
	}
	rec.ETag = string(resp.ETag)
	return rec, nil
}

func (s *TableStore) Get(ctx context.Context, partition, row string) (models.TaskRecord, error) {
	resp, err := s.client.GetEntity(ctx, partition, row, nil)
	if err != nil {
		return models.TaskRecord{}, tableError(err)
	}
	return decodeEntity(resp.Value, resp.ETag)
}

func (s *TableStore) Replace(ctx context.Context, rec models.TaskRecord) (models.TaskRecord, error) {
	payload, err := encodeEntity(rec)
	if err != nil {
		return models.TaskRecord{}, err
	}
	etag := azcore.ETag(rec.ETag)
	resp, err := s.client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return models.TaskRecord{}, tableError(err)
	}
	rec.ETag = string(resp.ETag)
	return rec, nil
}

func (s *TableStore) Delete(ctx context.Context, partition, row, etag string) error {
	et := azcore.ETag(etag)
	if _, err := s.client.DeleteEntity(ctx, partition, row, &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil {
		return tableError(err)
	}
	return nil
}

func (s *TableStore) FirstPage(ctx context.Context) ([]models.TaskRecord, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", models.PartitionKey)
	pager := s.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{
		Filter: &filter,
		Top:    &s.pageSize,
	})
	records := []models.TaskRecord{}
	if !pager.More() {
		return records, nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, tableError(err)
	}
	for _, raw := range resp.Entities {
		rec, err := decodeEntity(raw, "")
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if pager.More() {
		logger.Debug(ctx, "Task table has more than one page; only the first is read", "page_size", s.pageSize)
	}
	return records, nil
}

func (s *TableStore) EnsureSchema(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	logger.Info(ctx, "Task table created")
	return nil
}
