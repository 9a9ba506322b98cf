package testutil

import (
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/npezzotti/go-chathub/internal/types"
)

func TestLogger(t testing.TB) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmsgprefix)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// Users returns n users with ids 1..n.
func Users(n int) []types.User {
	now := time.Now().UTC()
	users := make([]types.User, n)
	for i := range users {
		users[i] = types.User{
			Id:           i + 1,
			Username:     fmt.Sprintf("user%d", i+1),
			EmailAddress: fmt.Sprintf("user%d@example.com", i+1),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	return users
}
