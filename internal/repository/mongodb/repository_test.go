package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mamadbah2/producao/internal/config"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/repository/storetest"
)

func TestMongoDBRepositoryContract(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	storetest.Run(t, func(t *testing.T, events feed.Publisher) repository.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		dbName := fmt.Sprintf("producao_test_%s", uuid.NewString()[:8])
		repo, err := NewMongoDBRepository(ctx, config.StoreConfig{MongoURI: uri, MongoDB: dbName}, events, nil)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() {
			_ = repo.db.Drop(context.Background())
			_ = repo.Close(context.Background())
		})
		return repo
	})
}
