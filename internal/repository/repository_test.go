// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"collectible-market/internal/model"
	"collectible-market/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a migrated connection pool.
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

func intPtr(v int) *int { return &v }

// seedItem creates collection "c1" if needed and one item definition in it.
func seedItem(t *testing.T, pool *pgxpool.Pool, number int, rarity model.Rarity, tier model.ScarcityTier, maxEditions *int) *model.ItemDefinition {
	t.Helper()
	ctx := context.Background()
	catalog := NewCatalogRepository(pool)

	require.NoError(t, catalog.UpsertCollection(ctx, "c1", "Collection One"))
	def, err := catalog.EnsureItemDefinition(ctx, pool, model.ItemDefinition{
		CollectionID: "c1",
		ItemNumber:   number,
		Name:         "item",
		Rarity:       rarity,
		BaseValue:    100,
		ScarcityTier: tier,
	}, maxEditions)
	require.NoError(t, err)
	return def
}

func seedUser(t *testing.T, pool *pgxpool.Pool, id int64, balance int64) {
	t.Helper()
	ctx := context.Background()
	users := NewUserRepository(pool)
	_, _, err := users.GetOrCreate(ctx, id, "user")
	require.NoError(t, err)
	if balance > 0 {
		_, err = users.Credit(ctx, pool, id, balance)
		require.NoError(t, err)
	}
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreate(ctx, 12345, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(12345), user.ID)
	assert.Equal(t, int64(0), user.Balance)

	user, created, err = repo.GetOrCreate(ctx, 12345, "someone-else")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", user.Username)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := NewUserRepository(pool).GetByID(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_DebitCredit(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()
	seedUser(t, pool, 1, 100)

	balance, err := repo.Debit(ctx, pool, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	_, err = repo.Debit(ctx, pool, 1, 41)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err = repo.Debit(ctx, pool, 1, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	_, err = repo.Debit(ctx, pool, 2, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)

	balance, err = repo.Credit(ctx, pool, 1, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)
}

func TestUserRepository_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	runner := db.NewTxRunner(pool, 3)
	ctx := context.Background()
	seedUser(t, pool, 1, 50)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
				_, err := repo.Debit(ctx, tx, 1, 10)
				return err
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, successes)
	balance, err := repo.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

// ============================================================================
// TransactionRepository / PaymentRepository Tests
// ============================================================================

func TestTransactionRepository_CreateAndReconcile(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	txs := NewTransactionRepository(pool)
	ctx := context.Background()
	seedUser(t, pool, 1, 0)

	_, err := users.Credit(ctx, pool, 1, 100)
	require.NoError(t, err)
	entry, err := txs.Create(ctx, pool, LedgerEntry{UserID: 1, Amount: 100, Type: model.TxTypePurchaseCredits, Reference: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, model.TxTypePurchaseCredits, entry.Type)
	require.NotNil(t, entry.Reference)
	assert.Equal(t, "pay-1", *entry.Reference)
	assert.Nil(t, entry.Description)

	mismatch, err := txs.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, mismatch)

	// Balance change without a ledger row.
	_, err = users.Credit(ctx, pool, 1, 5)
	require.NoError(t, err)

	mismatch, err = txs.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, mismatch)
	assert.Equal(t, int64(105), mismatch.Balance)
	assert.Equal(t, int64(100), mismatch.LedgerSum)

	all, err := txs.FindMismatches(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), all[0].UserID)

	history, err := txs.GetByUserID(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPaymentRepository_RecordIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPaymentRepository(pool)
	ctx := context.Background()
	seedUser(t, pool, 1, 0)

	first, applied, err := repo.Record(ctx, pool, "ext-1", 1, 100)
	require.NoError(t, err)
	assert.True(t, applied)

	second, applied, err := repo.Record(ctx, pool, "ext-1", 1, 100)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first.ID, second.ID)
}

// ============================================================================
// ScarcityRepository Tests
// ============================================================================

func TestScarcityRepository_TryClaim(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewScarcityRepository(pool)
	ctx := context.Background()

	common := seedItem(t, pool, 1, model.RarityComum, model.ScarcityUnlimited, nil)
	limited := seedItem(t, pool, 2, model.RarityRaro, model.ScarcityLimited, intPtr(2))
	unique := seedItem(t, pool, 3, model.RarityLendario, model.ScarcityUnique, intPtr(1))

	res, err := repo.TryClaim(ctx, pool, common.ID, model.ScarcityUnlimited)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Nil(t, res.Serial)

	for want := 1; want <= 2; want++ {
		res, err = repo.TryClaim(ctx, pool, limited.ID, model.ScarcityLimited)
		require.NoError(t, err)
		require.True(t, res.Granted)
		require.NotNil(t, res.Serial)
		assert.Equal(t, want, *res.Serial)
	}
	res, err = repo.TryClaim(ctx, pool, limited.ID, model.ScarcityLimited)
	require.NoError(t, err)
	assert.False(t, res.Granted)

	res, err = repo.TryClaim(ctx, pool, unique.ID, model.ScarcityUnique)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	res, err = repo.TryClaim(ctx, pool, unique.ID, model.ScarcityUnique)
	require.NoError(t, err)
	assert.False(t, res.Granted)

	counter, err := repo.GetCounter(ctx, unique.ID)
	require.NoError(t, err)
	assert.True(t, counter.Claimed)
	assert.Equal(t, 1, counter.IssuedCount)
}

func TestScarcityRepository_RollbackReturnsEdition(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewScarcityRepository(pool)
	runner := db.NewTxRunner(pool, 0)
	ctx := context.Background()
	limited := seedItem(t, pool, 1, model.RarityEpico, model.ScarcityLimited, intPtr(3))

	errAbort := assert.AnError
	err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
		res, err := repo.TryClaim(ctx, tx, limited.ID, model.ScarcityLimited)
		require.NoError(t, err)
		require.True(t, res.Granted)
		assert.Equal(t, 1, *res.Serial)
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	res, err := repo.TryClaim(ctx, pool, limited.ID, model.ScarcityLimited)
	require.NoError(t, err)
	require.True(t, res.Granted)
	assert.Equal(t, 1, *res.Serial, "serial of a rolled-back claim is handed out again")
}

func TestScarcityRepository_ConcurrentClaims(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewScarcityRepository(pool)
	inventory := NewInventoryRepository(pool)
	runner := db.NewTxRunner(pool, 3)
	ctx := context.Background()
	seedUser(t, pool, 1, 0)

	limited := seedItem(t, pool, 1, model.RarityRaro, model.ScarcityLimited, intPtr(5))
	unique := seedItem(t, pool, 2, model.RarityLendario, model.ScarcityUnique, intPtr(1))

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, def := range []*model.ItemDefinition{limited, unique} {
				err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
					res, err := repo.TryClaim(ctx, tx, def.ID, def.ScarcityTier)
					if err != nil || !res.Granted {
						return err
					}
					_, err = inventory.Grant(ctx, tx, 1, def.ID, res.Serial, model.ItemSourcePack)
					return err
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	n, err := inventory.CountByDefinition(ctx, unique.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	serials, err := inventory.Serials(ctx, limited.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, serials)
}

func TestScarcityRepository_Snapshot(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewScarcityRepository(pool)
	ctx := context.Background()
	seedItem(t, pool, 1, model.RarityComum, model.ScarcityUnlimited, nil)
	seedItem(t, pool, 2, model.RarityRaro, model.ScarcityLimited, intPtr(10))

	views, err := repo.Snapshot(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Nil(t, views[0].MaxEditions)
	require.NotNil(t, views[1].MaxEditions)
	assert.Equal(t, 10, *views[1].MaxEditions)

	_, err = repo.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

// ============================================================================
// CatalogRepository Tests
// ============================================================================

func TestCatalogRepository_PackTiersAndPool(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewCatalogRepository(pool)
	ctx := context.Background()
	seedItem(t, pool, 1, model.RarityComum, model.ScarcityUnlimited, nil)
	seedItem(t, pool, 2, model.RarityLendario, model.ScarcityUnique, intPtr(1))

	// Re-seeding an existing number keeps the original definition.
	again := seedItem(t, pool, 1, model.RarityEpico, model.ScarcityUnique, intPtr(1))
	assert.Equal(t, model.RarityComum, again.Rarity)

	tier := model.PackTier{
		ID: "bronze", Name: "Bronze", CollectionID: "c1", Price: 100, IsActive: true,
		Weights: map[model.Rarity]int{model.RarityComum: 9000, model.RarityLendario: 1000},
	}
	require.NoError(t, repo.UpsertPackTier(ctx, tier))

	got, err := repo.GetPackTier(ctx, pool, "bronze")
	require.NoError(t, err)
	assert.Equal(t, tier.Weights, got.Weights)

	tiers, err := repo.ListPackTiers(ctx)
	require.NoError(t, err)
	assert.Len(t, tiers, 1)

	_, err = repo.GetPackTier(ctx, pool, "gold")
	assert.ErrorIs(t, err, ErrPackTierNotFound)

	entries, err := repo.LoadCollectionPool(ctx, pool, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Available())
}

// ============================================================================
// Inventory / Listing Tests
// ============================================================================

func TestListingRepository_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	inventory := NewInventoryRepository(pool)
	listings := NewListingRepository(pool)
	ctx := context.Background()
	seedUser(t, pool, 1, 0)
	seedUser(t, pool, 2, 0)
	def := seedItem(t, pool, 1, model.RarityComum, model.ScarcityUnlimited, nil)

	item, err := inventory.Grant(ctx, pool, 1, def.ID, nil, model.ItemSourcePack)
	require.NoError(t, err)

	l, err := listings.Create(ctx, pool, 1, item.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, model.ListingActive, l.Status)

	_, err = listings.Create(ctx, pool, 1, item.ID, 50)
	assert.ErrorIs(t, err, ErrDuplicateActiveListing)

	_, err = inventory.DeleteUnlisted(ctx, pool, item.ID, 1)
	assert.ErrorIs(t, err, ErrItemListed)

	active, err := listings.ListActive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, def.ID, active[0].ItemDefinitionID)

	sold, err := listings.MarkSold(ctx, pool, l.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, model.ListingSold, sold.Status)
	require.NotNil(t, sold.BuyerID)

	_, err = listings.MarkSold(ctx, pool, l.ID, 2)
	assert.ErrorIs(t, err, ErrListingNotActive)

	_, err = listings.MarkSold(ctx, pool, 9999, 2)
	assert.ErrorIs(t, err, ErrListingNotFound)

	require.NoError(t, inventory.Transfer(ctx, pool, item.ID, 1, 2))
	assert.ErrorIs(t, inventory.Transfer(ctx, pool, item.ID, 1, 2), ErrItemNotOwned)

	n, err := listings.CountPairTradesSince(ctx, 1, 2, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	def2, err := inventory.DeleteUnlisted(ctx, pool, item.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, def.ID, def2.ID)
}

func TestListingRepository_Cancel(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	inventory := NewInventoryRepository(pool)
	listings := NewListingRepository(pool)
	ctx := context.Background()
	seedUser(t, pool, 1, 0)
	def := seedItem(t, pool, 1, model.RarityComum, model.ScarcityUnlimited, nil)
	item, err := inventory.Grant(ctx, pool, 1, def.ID, nil, model.ItemSourcePack)
	require.NoError(t, err)

	l, err := listings.Create(ctx, pool, 1, item.ID, 40)
	require.NoError(t, err)

	_, err = listings.Cancel(ctx, l.ID, 2)
	assert.ErrorIs(t, err, ErrItemNotOwned)

	cancelled, err := listings.Cancel(ctx, l.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.ListingCancelled, cancelled.Status)

	at, err := listings.LastCancelledAt(ctx, item.ID)
	require.NoError(t, err)
	assert.NotNil(t, at)

	// The item can be listed again once the old listing is terminal.
	_, err = listings.Create(ctx, pool, 1, item.ID, 45)
	assert.NoError(t, err)
}

func TestListingRepository_ConcurrentListingExclusivity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	inventory := NewInventoryRepository(pool)
	listings := NewListingRepository(pool)
	ctx := context.Background()
	seedUser(t, pool, 1, 0)
	def := seedItem(t, pool, 1, model.RarityComum, model.ScarcityUnlimited, nil)
	item, err := inventory.Grant(ctx, pool, 1, def.ID, nil, model.ItemSourcePack)
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(price int64) {
			defer wg.Done()
			_, err := listings.Create(ctx, pool, 1, item.ID, price)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrDuplicateActiveListing)
		}(int64(10 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

// ============================================================================
// RuleRepository / RiskRepository Tests
// ============================================================================

func TestRuleRepository_SnapshotVersionMovesOnUpdate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRuleRepository(pool)
	ctx := context.Background()

	empty, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Version)

	created, err := repo.EnsureByName(ctx, model.MarketplaceRule{
		Name: "band", Category: "price_band", IsActive: true, Priority: 10,
		Config: map[string]any{"min_percent": 10},
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.EnsureByName(ctx, model.MarketplaceRule{Name: "band", Category: "price_band"})
	require.NoError(t, err)
	assert.False(t, created)

	before, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, before.Rules, 1)
	assert.EqualValues(t, 10, before.Rules[0].Config["min_percent"])

	inactive := false
	updated, err := repo.Update(ctx, pool, before.Rules[0].ID, RuleUpdate{IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, int64(2), updated.Version)
	assert.EqualValues(t, 10, updated.Config["min_percent"], "config untouched when not provided")

	after, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.Version, before.Version)

	_, err = repo.Update(ctx, pool, 9999, RuleUpdate{IsActive: &inactive})
	assert.ErrorIs(t, err, ErrRuleNotFound)

	_, err = repo.LockByID(ctx, pool, 9999)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRiskRepository_RecordAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRiskRepository(pool)
	ctx := context.Background()
	itemID := int64(7)

	_, err := repo.Record(ctx, model.RiskSignal{
		UserID: 1, Action: model.ActionList, UserItemID: &itemID, Score: 30, Vetoed: true,
		Reasons: []string{"price below minimum"},
	})
	require.NoError(t, err)

	signals, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, []string{"price below minimum"}, signals[0].Reasons)

	at, err := repo.LastVetoedAt(ctx, itemID)
	require.NoError(t, err)
	assert.NotNil(t, at)

	at, err = repo.LastVetoedAt(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, at)
}
