package sync_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/sync"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func setupSyncIntegration(t *testing.T) (context.Context, string) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pos_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  fmt.Sprintf("Download Test Co %d", time.Now().UnixNano()),
		Email: fmt.Sprintf("owner-%d@download.test", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	businessId := biz.ID.String()
	return utils.SetBusinessIdInContext(ctx, businessId), businessId
}

func insertProduct(t *testing.T, ctx context.Context, businessId string, shopId int, name string, active bool, modifiedAt time.Time) string {
	t.Helper()
	product := models.Product{
		ID:             uuid.NewString(),
		BusinessId:     businessId,
		ShopId:         shopId,
		Name:           name,
		UnitPrice:      decimal.NewFromInt(10),
		IsWeightBased:  utils.NewFalse(),
		TrackExpiry:    utils.NewFalse(),
		IsActive:       &active,
		SyncStatus:     models.SyncStatusPending,
		LastModifiedAt: modifiedAt,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		t.Fatalf("insert product %s: %v", name, err)
	}
	return product.ID
}

func TestDownload_ExcludesSoftDeletedProducts(t *testing.T) {
	ctx, businessId := setupSyncIntegration(t)

	var biz models.Business
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&biz).Error; err != nil {
		t.Fatalf("fetch business: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	kept := insertProduct(t, ctx, businessId, biz.PrimaryShopId, "Kept", true, now)
	removed := insertProduct(t, ctx, businessId, biz.PrimaryShopId, "Removed", false, now)

	transfer := sync.NewTransfer(nil)
	result, err := transfer.Download(ctx, "", time.Time{}, "")
	if err != nil {
		t.Fatalf("download: %v", err)
	}

	seen := make(map[string]bool)
	for _, entity := range result.Entities {
		seen[entity.EntityId] = true
	}
	if !seen[kept] {
		t.Fatal("active product missing from download page")
	}
	if seen[removed] {
		t.Fatal("soft deleted product must not be downloaded")
	}
}

func TestDownload_BoundaryTimestampRowsNotSkipped(t *testing.T) {
	t.Setenv("SYNC_PAGE_SIZE", "2")
	ctx, businessId := setupSyncIntegration(t)

	var biz models.Business
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", businessId).First(&biz).Error; err != nil {
		t.Fatalf("fetch business: %v", err)
	}

	// Five rows sharing one timestamp; with a page size of 2 a timestamp-only
	// cursor would skip the rows behind each page boundary.
	modifiedAt := time.Now().UTC().Truncate(time.Second)
	want := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id := insertProduct(t, ctx, businessId, biz.PrimaryShopId, fmt.Sprintf("Batch %d", i), true, modifiedAt)
		want[id] = true
	}

	transfer := sync.NewTransfer(nil)
	seen := make(map[string]int)
	since, sinceId := time.Time{}, ""
	for page := 0; page < 10; page++ {
		result, err := transfer.Download(ctx, "", since, sinceId)
		if err != nil {
			t.Fatalf("download page %d: %v", page, err)
		}
		for _, entity := range result.Entities {
			seen[entity.EntityId]++
		}
		if !result.HasMore {
			break
		}
		since, sinceId = result.NextSince, result.NextSinceId
	}

	for id := range want {
		if seen[id] != 1 {
			t.Fatalf("product %s delivered %d times, want exactly once", id, seen[id])
		}
	}
}

func TestGetSaleSession_LoadsItems(t *testing.T) {
	ctx, businessId := setupSyncIntegration(t)

	session := &models.SaleSession{
		ID:         uuid.NewString(),
		BusinessId: businessId,
		ShopId:     1,
		UserId:     1,
		DeviceId:   "dev-1",
		State:      models.SessionStateActive,
	}
	items := []models.SaleSessionItem{
		{ProductId: uuid.NewString(), Name: "Line 1", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(10)},
		{ProductId: uuid.NewString(), Name: "Line 2", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5)},
	}
	if err := models.SaveSaleSession(ctx, session, items); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := models.GetSaleSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(loaded.Items) != 2 {
		t.Fatalf("loaded %d items, want 2", len(loaded.Items))
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pos_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
