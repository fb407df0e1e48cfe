// Command storage-init provisions the Azure queue and table that receive
// board change notices.
package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const queueAlreadyExists = "QueueAlreadyExists"

type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, options *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	table := os.Getenv("BOARDS_TABLE")
	queue := os.Getenv("CHANGES_QUEUE")
	if table == "" && queue == "" {
		log.Fatal("nothing to provision: set BOARDS_TABLE and/or CHANGES_QUEUE")
	}
	log.WithFields(log.Fields{"table": table, "queue": queue}).Info("storage.init.start")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if table != "" {
		svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
		if err != nil {
			log.Fatalf("table client: %v", err)
		}
		created, err := ensureTable(ctx, svc.NewClient(table))
		if err != nil {
			log.Fatalf("create table %s: %v", table, err)
		}
		log.WithFields(log.Fields{"table": table, "created": created}).Info("storage.init.table")
	}

	if queue != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, nil)
		if err != nil {
			log.Fatalf("queue client: %v", err)
		}
		created, err := ensureQueue(ctx, q)
		if err != nil {
			log.Fatalf("create queue %s: %v", queue, err)
		}
		log.WithFields(log.Fields{"queue": queue, "created": created}).Info("storage.init.queue")
	}

	log.Info("storage.init.complete")
}

// ensureTable creates the table, reporting false when it already existed.
func ensureTable(ctx context.Context, c tableCreator) (bool, error) {
	_, err := c.CreateTable(ctx, nil)
	return created(err, string(aztables.TableAlreadyExists))
}

// ensureQueue creates the queue, reporting false when it already existed.
func ensureQueue(ctx context.Context, c queueCreator) (bool, error) {
	_, err := c.Create(ctx, nil)
	return created(err, queueAlreadyExists)
}

func created(err error, alreadyExists string) (bool, error) {
	if err == nil {
		return true, nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == alreadyExists {
		return false, nil
	}
	return false, err
}
