package blob

import (
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func storageNotExist() error { return storage.ErrObjectNotExist }

func TestNotExist_GoogleAPI404(t *testing.T) {
	assert.True(t, notExist(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, notExist(&googleapi.Error{Code: http.StatusForbidden}))
}
