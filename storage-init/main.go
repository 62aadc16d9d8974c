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

	"kanban-api/storage"
)

type tableCreator interface {
	CreateTable(ctx context.Context, name string, o *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

type queueCreator interface {
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		log.Fatalf("table service: %v", err)
	}
	if err := createTables(ctx, svc, tableNames()); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	if name := os.Getenv("REPAIR_QUEUE"); name != "" {
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			log.Fatalf("queue client: %v", err)
		}
		if err := createQueue(ctx, q); err != nil {
			log.Fatalf("create queue %s: %v", name, err)
		}
	}

	log.Info("storage init complete")
}

func tableNames() []string {
	t := storage.Tables{
		Boards:   envOr("BOARDS_TABLE", "boards"),
		Lists:    envOr("LISTS_TABLE", "lists"),
		Cards:    envOr("CARDS_TABLE", "cards"),
		Comments: envOr("COMMENTS_TABLE", "comments"),
	}
	return []string{t.Boards, t.Lists, t.Cards, t.Comments}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func createTables(ctx context.Context, svc tableCreator, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.CreateTable(ctx, name, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueue(ctx context.Context, q queueCreator) error {
	_, err := q.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}
