package elasticsearch

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"net/http"
	"strings"
	"time"
)

type Bootstrapper struct {
	esClient  *elasticsearch.Client
	indexName string
	logger    *zap.Logger
}

func NewBootstrapper(esClient *elasticsearch.Client, indexName string, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		esClient:  esClient,
		indexName: indexName,
		logger:    logger,
	}
}

// BootstrapElasticsearch waits for the cluster and creates the log and span
// indices if they do not exist yet.
func (bs *Bootstrapper) BootstrapElasticsearch(ctx context.Context, retries int, delay time.Duration) error {
	if err := bs.waitForElasticsearch(ctx, retries, delay); err != nil {
		return fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	if err := bs.createIndex(ctx, bs.indexName, logIndex); err != nil {
		return fmt.Errorf("error creating log index: %w", err)
	}
	if err := bs.createIndex(ctx, SpanIndexName(bs.indexName), spanIndex); err != nil {
		return fmt.Errorf("error creating span index: %w", err)
	}
	return nil
}

func (bs *Bootstrapper) waitForElasticsearch(ctx context.Context, maxRetries int, delay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		res, err := bs.esClient.Info(bs.esClient.Info.WithContext(ctx))
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				bs.logger.Info("Elasticsearch is available")
				return nil
			}
		}
		bs.logger.Warn(
			"Elasticsearch not available, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("Elasticsearch is not available after %d attempts", maxRetries)
}

func (bs *Bootstrapper) createIndex(ctx context.Context, indexName string, index map[string]interface{}) error {
	exists, err := bs.esClient.Indices.Exists(
		[]string{indexName},
		bs.esClient.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error checking index %s: %w", indexName, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		bs.logger.Info("Index already exists", zap.String("index_name", indexName))
		return nil
	}

	body, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("error marshaling index input during bootstrap: %w", err)
	}
	res, err := bs.esClient.Indices.Create(
		indexName,
		bs.esClient.Indices.Create.WithBody(strings.NewReader(string(body))),
		bs.esClient.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error creating index during bootstrap %s: %w", indexName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// another collector may have created it between the two calls
		if strings.Contains(res.String(), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("error response for index %s: %s", indexName, res.String())
	}

	bs.logger.Info("Successfully created index", zap.String("index_name", indexName))
	return nil
}
