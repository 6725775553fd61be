package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pimarket/reconciler/internal/domain"
	"github.com/pimarket/reconciler/internal/orderref"
	"github.com/pimarket/reconciler/internal/repository"
)

// webhook mirrors the gateway notification body.
type webhook struct {
	ID              int64   `json:"id"`
	Gateway         string  `json:"gateway"`
	TransactionDate string  `json:"transactionDate"`
	AccountNumber   string  `json:"accountNumber"`
	SubAccount      *string `json:"subAccount"`
	Code            *string `json:"code"`
	Content         string  `json:"content"`
	TransferType    string  `json:"transferType"`
	Description     string  `json:"description"`
	TransferAmount  int64   `json:"transferAmount"`
	Accumulated     int64   `json:"accumulated"`
	ReferenceCode   string  `json:"referenceCode"`
}

type scenario struct {
	name    string
	payload webhook
}

var vietnamTime = time.FixedZone("ICT", 7*60*60)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("failed to load .env", zap.Error(err))
	}

	driver := getEnv("DB_DRIVER", "sqlite")
	dsn := getEnv("DB_DSN", "reconciler.db")

	db, err := repository.Open(driver, dsn)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()
	baseDir := findTestdataDir()

	orders, err := seedCatalog(ctx, db, rng)
	if err != nil {
		logger.Fatal("failed to seed catalog", zap.Error(err))
	}
	logger.Info("seeded orders awaiting payment", zap.Int("orders", len(orders)))

	scenarios := buildScenarios(rng, orders)

	dir := filepath.Join(baseDir, "webhooks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Fatal("failed to create webhook dir", zap.Error(err))
	}
	for _, s := range scenarios {
		path := filepath.Join(dir, s.name+".json")
		if err := writeJSONFile(path, s.payload); err != nil {
			logger.Fatal("failed to write webhook", zap.String("path", path), zap.Error(err))
		}
	}
	logger.Info("generated webhook bodies", zap.Int("count", len(scenarios)), zap.String("dir", dir))

	statement := filepath.Join(baseDir, "statement.csv")
	if err := writeStatementCSV(statement, scenarios); err != nil {
		logger.Fatal("failed to write statement", zap.Error(err))
	}
	logger.Info("generated statement export", zap.String("path", statement))
}

// seedCatalog inserts one seller per product type, a buyer, stock for the
// license-key product and a handful of orders awaiting payment.
func seedCatalog(ctx context.Context, db *repository.DB, rng *rand.Rand) ([]*domain.Order, error) {
	catalog := repository.NewCatalogRepo(db)
	orderRepo := repository.NewOrderRepo(db)
	keys := repository.NewLicenseKeyRepo(db)
	now := time.Now().UTC()

	buyer := &domain.User{ID: uuid.NewString(), Email: "buyer@pimarket.vn", DisplayName: "Nguyen Van A"}
	if err := catalog.InsertUser(ctx, buyer); err != nil {
		return nil, fmt.Errorf("insert buyer: %w", err)
	}

	type productSeed struct {
		title   string
		price   int64
		kind    domain.ProductType
		fileURL string
	}
	seeds := []productSeed{
		{"Go Concurrency Handbook", 150000, domain.ProductFileDownload, "https://files.pimarket.vn/go-concurrency.pdf"},
		{"IDE Pro License", 490000, domain.ProductLicenseKey, ""},
		{"Streaming Family Slot", 89000, domain.ProductSharedAccount, ""},
		{"Design Suite Upgrade", 250000, domain.ProductUpgradeAccountPref + "design", ""},
	}

	var orders []*domain.Order
	for i, ps := range seeds {
		seller := &domain.User{
			ID:          uuid.NewString(),
			Email:       fmt.Sprintf("seller%d@pimarket.vn", i+1),
			DisplayName: fmt.Sprintf("Seller %d", i+1),
		}
		if err := catalog.InsertUser(ctx, seller); err != nil {
			return nil, fmt.Errorf("insert seller: %w", err)
		}

		product := &domain.Product{
			ID:       uuid.NewString(),
			SellerID: seller.ID,
			Title:    ps.title,
			Price:    ps.price,
			Type:     ps.kind,
			FileURL:  ps.fileURL,
		}
		if err := catalog.InsertProduct(ctx, product); err != nil {
			return nil, fmt.Errorf("insert product %q: %w", ps.title, err)
		}

		if ps.kind == domain.ProductLicenseKey {
			for k := 0; k < 3; k++ {
				key := &domain.LicenseKey{
					ID:        uuid.NewString(),
					ProductID: product.ID,
					Value:     fmt.Sprintf("IDE-%04X-%04X-%04X", rng.Intn(0x10000), rng.Intn(0x10000), rng.Intn(0x10000)),
					CreatedAt: now.Add(time.Duration(k) * time.Second),
				}
				if err := keys.Insert(ctx, key); err != nil {
					return nil, fmt.Errorf("insert license key: %w", err)
				}
			}
		}

		// Two orders per product; every other one carries a 10% voucher.
		for j := 0; j < 2; j++ {
			order := &domain.Order{
				ID:             uuid.NewString(),
				BuyerID:        buyer.ID,
				Product:        *product,
				Status:         domain.OrderAwaitingPayment,
				DeliveryStatus: domain.DeliveryPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if j == 1 {
				voucherID := uuid.NewString()
				if err := catalog.InsertVoucher(ctx, voucherID, fmt.Sprintf("SALE10-%d", i+1)); err != nil {
					return nil, fmt.Errorf("insert voucher: %w", err)
				}
				order.VoucherID = voucherID
				order.DiscountAmount = ps.price / 10
			}
			if err := orderRepo.Insert(ctx, order); err != nil {
				return nil, fmt.Errorf("insert order: %w", err)
			}
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// buildScenarios produces one notification per reconciliation outcome.
func buildScenarios(rng *rand.Rand, orders []*domain.Order) []scenario {
	gatewayID := int64(900000 + rng.Intn(10000))
	at := time.Date(2024, 1, 15, 9, 30, 0, 0, vietnamTime)
	accumulated := int64(0)

	next := func(amount int64, content, direction string) webhook {
		gatewayID++
		at = at.Add(time.Duration(1+rng.Intn(30)) * time.Minute)
		if direction == "in" {
			accumulated += amount
		} else {
			accumulated -= amount
		}
		return webhook{
			ID:              gatewayID,
			Gateway:         "MBBank",
			TransactionDate: at.Format("2006-01-02 15:04:05"),
			AccountNumber:   "0123456789",
			Content:         content,
			TransferType:    direction,
			Description:     "BankAPINotify " + content,
			TransferAmount:  amount,
			Accumulated:     accumulated,
			ReferenceCode:   fmt.Sprintf("FT24015%05d", rng.Intn(100000)),
		}
	}

	var out []scenario
	for i, o := range orders {
		out = append(out, scenario{
			name:    fmt.Sprintf("matched_%02d", i+1),
			payload: next(o.ExpectedAmount(), orderref.Embed(o.ID)+" thanh toan", "in"),
		})
	}

	short := orders[0]
	out = append(out,
		scenario{"amount_mismatch", next(short.ExpectedAmount()-5000, orderref.Embed(short.ID), "in")},
		scenario{"no_reference", next(120000, "chuyen tien mua hang", "in")},
		scenario{"order_not_found", next(150000, orderref.Embed(uuid.NewString()), "in")},
		scenario{"outbound", next(50000, "rut tien", "out")},
	)
	// A gateway retry carries the same id and body.
	out = append(out, scenario{"matched_01_retry", out[0].payload})
	return out
}

func writeStatementCSV(path string, scenarios []scenario) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"id", "gateway", "transactionDate", "accountNumber",
		"transferType", "transferAmount", "content", "referenceCode",
	}); err != nil {
		return err
	}

	for _, s := range scenarios {
		p := s.payload
		if err := w.Write([]string{
			strconv.FormatInt(p.ID, 10),
			p.Gateway,
			p.TransactionDate,
			p.AccountNumber,
			p.TransferType,
			strconv.FormatInt(p.TransferAmount, 10),
			p.Content,
			p.ReferenceCode,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "./testdata"} {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return "testdata"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
