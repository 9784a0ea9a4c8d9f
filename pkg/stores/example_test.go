package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cfdeploy/cfdeploy/pkg/engine"
	"github.com/cfdeploy/cfdeploy/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	// Create store configuration
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_CompleteDeployment demonstrates recording the outcome
// of a deployment run.
func ExampleSQLiteStore_CompleteDeployment() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	if err := store.StartDeployment(ctx, "deploy-001", "/deployments/shop.yaml"); err != nil {
		log.Fatal(err)
	}

	err := store.CompleteDeployment(ctx, "deploy-001", stores.Completion{
		Status:       stores.DeploymentStatusSucceeded,
		PlatformTime: 2300 * time.Millisecond,
	})
	if err != nil {
		log.Fatal(err)
	}

	d, err := store.GetDeployment(ctx, "deploy-001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: %s (%d ms in controller calls)\n", d.ID, d.Status, d.PlatformTimeMS)
	// Output: deploy-001: succeeded (2300 ms in controller calls)
}

// ExampleSQLiteStore_GetVariable demonstrates typed variables backed by the
// store.
func ExampleSQLiteStore_GetVariable() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	scope := engine.DeploymentScope("deploy-001")
	changed := engine.Var[bool]("app-changed.web")

	_ = engine.SetVariable(ctx, store, scope, changed, true)

	value, _ := engine.GetVariable(ctx, store, scope, changed)
	fmt.Println("app-changed.web:", value)
	// Output: app-changed.web: true
}
