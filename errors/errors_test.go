package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"store unavailable", ErrStoreUnavailable, true},
		{"generation timeout", ErrGenerationTimeout, true},
		{"queue full", ErrQueueFull, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"sqlite busy message", fmt.Errorf("database is locked (SQLITE_BUSY)"), true},
		{"invalid config", ErrInvalidConfig, false},
		{"corrupt artifact", ErrArtifactCorrupt, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("timeout")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrLedgerPersist))
	assert.Equal(t, ErrorInvalid, Classify(ErrUnknownArtifact))
	assert.Equal(t, ErrorInvalid, Classify(fmt.Errorf("decode: %w", ErrArtifactCorrupt)))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "Ledger", "persist", "write"))

	err := Wrap(ErrGeneration, "Orchestrator", "GenerateAll", "segments")
	assert.EqualError(t, err, "Orchestrator.GenerateAll: segments failed: artifact generation failed")
	assert.True(t, Is(err, ErrGeneration))
}

func TestWrapClassified(t *testing.T) {
	t.Run("transient", func(t *testing.T) {
		err := WrapTransient(ErrStoreUnavailable, "Oracle", "GetSequence", "list items")
		assert.True(t, IsTransient(err))
		assert.True(t, Is(err, ErrStoreUnavailable))

		var ce *ClassifiedError
		assert.True(t, As(err, &ce))
		assert.Equal(t, "Oracle", ce.Component)
		assert.Equal(t, "GetSequence", ce.Operation)
	})

	t.Run("invalid", func(t *testing.T) {
		err := WrapInvalid(ErrInvalidConfig, "Store", "SetCacheWindow", "validate window")
		assert.True(t, IsInvalid(err))
		assert.False(t, IsTransient(err))
	})

	t.Run("fatal", func(t *testing.T) {
		err := WrapFatal(fmt.Errorf("disk gone"), "Ledger", "persist", "rename")
		assert.True(t, IsFatal(err))
		assert.Equal(t, ErrorFatal, Classify(err))
	})

	t.Run("nil passthrough", func(t *testing.T) {
		assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
		assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
		assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
	})
}
