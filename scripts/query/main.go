package main

import (
	"FlowSentry/internal/api"
	"FlowSentry/internal/config"
	"FlowSentry/internal/query"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query a running engine over gRPC, 'direct' to query ClickHouse directly.")
	addr := flag.String("addr", "localhost:8001", "gRPC address of the engine (api mode).")
	op := flag.String("op", "latest", "api mode operation: latest, flows, get, count or reset.")
	flowKey := flag.String("flow", "", "Flow key for 'get' and for direct mode.")
	limit := flag.Int("limit", query.DefaultLimit, "Maximum snapshots returned in direct mode.")
	configPath := flag.String("config", "configs/config.yaml", "Config file holding the ClickHouse connection (direct mode).")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("Running in '%s' mode.", *mode)
	var result any
	var err error
	switch *mode {
	case "api":
		result, err = queryViaAPI(ctx, *addr, *op, *flowKey)
	case "direct":
		result, err = directQueryClickHouse(ctx, *configPath, *flowKey, *limit)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result)
}

func queryViaAPI(ctx context.Context, addr, op, flowKey string) (any, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	defer cc.Close()
	client := api.NewFlowQueryClient(cc)

	switch op {
	case "latest":
		return client.Latest(ctx)
	case "flows":
		return client.Snapshot(ctx)
	case "get":
		return client.Get(ctx, flowKey)
	case "count":
		return client.Count(ctx)
	case "reset":
		return "ok", client.ResetCount(ctx)
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

func directQueryClickHouse(ctx context.Context, configPath, flowKey string, limit int) (any, error) {
	if flowKey == "" {
		return nil, fmt.Errorf("-flow is required in direct mode")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Snapshot.Writers {
		if w.Type != "clickhouse" {
			continue
		}
		q, err := query.NewClickHouseQuerier(ctx, w.ClickHouse)
		if err != nil {
			return nil, err
		}
		lifecycle, err := q.Lifecycle(ctx, flowKey)
		if err != nil {
			return nil, err
		}
		history, err := q.History(ctx, query.HistoryRequest{Flow: flowKey, Limit: limit})
		if err != nil {
			return nil, err
		}
		return map[string]any{"lifecycle": lifecycle, "history": history}, nil
	}
	return nil, fmt.Errorf("no clickhouse writer in %s", configPath)
}
