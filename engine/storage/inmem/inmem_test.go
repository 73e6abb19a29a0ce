package inmem

import (
	"testing"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/engine/storage/test"
)

func TestInmemStorage(t *testing.T) {
	test.TestRecordStorage(t, func() storage.RecordStorage { return New() })
}
