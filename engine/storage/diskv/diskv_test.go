package diskv

import (
	"testing"

	"github.com/micromdm/nanoprocess/engine/storage"
	"github.com/micromdm/nanoprocess/engine/storage/test"
)

func TestDiskvStorage(t *testing.T) {
	dir := t.TempDir()
	test.TestRecordStorage(t, func() storage.RecordStorage { return New(dir) })
}
