package gcscold

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/roach88/coldline/internal/tier"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"object missing", storage.ErrObjectNotExist, tier.ErrNotFound},
		{"wrapped missing", fmt.Errorf("read: %w", storage.ErrObjectNotExist), tier.ErrNotFound},
		{"404", &googleapi.Error{Code: http.StatusNotFound}, tier.ErrNotFound},
		{"429", &googleapi.Error{Code: http.StatusTooManyRequests}, tier.ErrThrottled},
		{"503", &googleapi.Error{Code: http.StatusServiceUnavailable}, tier.ErrThrottled},
		{"500", &googleapi.Error{Code: http.StatusInternalServerError}, tier.ErrUnavailable},
		{"network", errors.New("connection reset by peer"), tier.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("get", "p/1.json.zst", tt.err), tt.want)
		})
	}

	assert.ErrorIs(t, classify("put", "x", context.Canceled), context.Canceled)
}

func TestObjectName(t *testing.T) {
	s := &Store{prefix: "archive/v1"}
	assert.Equal(t, "archive/v1/p/1.json.zst", s.objectName("p/1.json.zst"))

	s = &Store{}
	assert.Equal(t, "p/1.json.zst", s.objectName("p/1.json.zst"))
}

func TestOpen_RequiresBucket(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}
