// Command warmer preloads the cache with every active item's valuation
// and market data, then exits. Run it after deploys or cache flushes so
// the first wave of traffic does not pay the cold-read cost.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"appraisal-backend/internal/di"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "maximum time to spend warming")
	flag.Parse()

	container, err := di.NewContainer()
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	count, err := container.Service.WarmCache(ctx)
	if err != nil {
		container.Logger.Error("cache warm failed", zap.Error(err))
		_ = container.Shutdown()
		os.Exit(1)
	}

	container.Logger.Info("cache warmed", zap.Int("entries", count))
	if err := container.Shutdown(); err != nil {
		container.Logger.Error("container shutdown error", zap.Error(err))
	}
}
