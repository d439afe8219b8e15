package elasticsearch

const DefaultIndexName = "log_index"

var logIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"timestamp": map[string]interface{}{
				"type": "date",
			},
			"level": map[string]interface{}{
				"type": "keyword",
			},
			"message": map[string]interface{}{
				"type": "text",
			},
			"trace_id": map[string]interface{}{
				"type": "keyword",
			},
			"span_id": map[string]interface{}{
				"type": "keyword",
			},
			"source": map[string]interface{}{
				"type": "keyword",
			},
			"service_name": map[string]interface{}{
				"type": "keyword",
			},
			"pod_name": map[string]interface{}{
				"type": "keyword",
			},
			"namespace": map[string]interface{}{
				"type": "keyword",
			},
			"attributes": map[string]interface{}{
				"type": "flattened",
			},
		},
	},
}

// SpanIndexName is where spans of the log index named indexName are written.
func SpanIndexName(indexName string) string {
	return indexName + "_spans"
}

var spanIndex = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 1,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"trace_id":       map[string]interface{}{"type": "keyword"},
			"span_id":        map[string]interface{}{"type": "keyword"},
			"parent_span_id": map[string]interface{}{"type": "keyword"},
			"operation_name": map[string]interface{}{"type": "keyword"},
			"start_time":     map[string]interface{}{"type": "date"},
			"end_time":       map[string]interface{}{"type": "date"},
			"duration_ms":    map[string]interface{}{"type": "long"},
			"status":         map[string]interface{}{"type": "keyword"},
			"source":         map[string]interface{}{"type": "keyword"},
			"service_name":   map[string]interface{}{"type": "keyword"},
			"pod_name":       map[string]interface{}{"type": "keyword"},
			"namespace":      map[string]interface{}{"type": "keyword"},
			"tags":           map[string]interface{}{"type": "flattened"},
		},
	},
}
