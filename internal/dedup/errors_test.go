package dedup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nrfhsa/Image-To-URL/internal/blobstore"
)

func TestKindOf(t *testing.T) {
	testcases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "service error", err: E(KindTooLarge, "upload", "a.png", "file too large"), kind: KindTooLarge},
		{name: "wrapped service error", err: fmt.Errorf("outer: %w", Wrap(KindConsistency, "delete", "", errors.New("boom"))), kind: KindConsistency},
		{name: "blob not found", err: fmt.Errorf("open: %w", blobstore.ErrBlobNotFound), kind: KindNotFound},
		{name: "invalid name", err: blobstore.ErrInvalidName, kind: KindValidation},
		{name: "unknown defaults storage", err: errors.New("disk on fire"), kind: KindStorage},
		{name: "nil", err: nil, kind: KindUnknown},
		{name: "zero value error", err: &Error{}, kind: KindUnknown},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
		})
	}
}

func TestError_Format(t *testing.T) {
	err := Wrap(KindStorage, "upload", "abc.png", errors.New("no space left"))
	assert.Equal(t, "upload: storage error abc.png: no space left", err.Error())

	err = E(KindValidation, "upload", "", "no file uploaded")
	assert.Equal(t, "upload: no file uploaded", err.Error())

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "no file uploaded", e.Message())

	assert.Nil(t, Wrap(KindStorage, "op", "", nil))
}

func TestKind_ZeroValueIsUnknown(t *testing.T) {
	var k Kind
	assert.Equal(t, KindUnknown, k)
	assert.Equal(t, "unknown error", k.String())
	assert.Equal(t, "invalid request", KindValidation.String())
	assert.Equal(t, "unknown error", (&Error{}).Message())
}
