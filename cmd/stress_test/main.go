package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/ledgerclient"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	defaultLedgerURL = "http://localhost:8081"
	initialStock     = 20
	totalRequests    = 50
	callTimeout      = 5 * time.Second
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ledgerURL := os.Getenv("LEDGER_URL")
	if ledgerURL == "" {
		ledgerURL = defaultLedgerURL
	}

	client := ledgerclient.New(ledgerURL, callTimeout, zap.NewNop())
	inventory := service.NewInventoryService(client, zap.NewNop(), otel.Tracer("stress-test"))

	// Fresh product for this run
	product, err := client.CreateProduct(ctx, domain.NewProduct{
		Name:     fmt.Sprintf("stress-item-%d", time.Now().UnixNano()),
		Category: "stress",
		Price:    decimal.RequireFromString("9.99"),
		Stock:    initialStock,
	})
	if err != nil {
		logger.Fatal("failed to create product", zap.String("ledger_url", ledgerURL), zap.Error(err))
	}
	defer func() {
		if err := client.DeleteProduct(ctx, product.ID); err != nil {
			logger.Warn("failed to delete product", zap.Int64("product_id", product.ID), zap.Error(err))
		}
	}()

	// Counters
	var successCount atomic.Int32
	var rejectedCount atomic.Int32
	var errorCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := inventory.UpdateStock(ctx, product.ID, -1)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInvalidRequest):
				rejectedCount.Add(1)
			default:
				errorCount.Add(1)
				logger.Error("update failed", zap.Error(err))
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	rejected := rejectedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Product:          %d\n", product.ID)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejected)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock && rejected == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d updates succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, rejected)
	}

	// Verify final stock in the ledger
	stock, err := inventory.GetStock(ctx, product.ID)
	if err != nil {
		logger.Error("failed to read final stock", zap.Error(err))
		return
	}
	fmt.Printf("Final Ledger Stock: %d\n", stock.Quantity)

	if stock.Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", stock.Quantity)
	}
}
