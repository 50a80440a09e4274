package inmemory

import (
	"testing"

	"github.com/mentatsync/mentatsync"
	"github.com/mentatsync/mentatsync/internal/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) mentatsync.Storage {
		return New()
	})
}
