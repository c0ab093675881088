package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_RecognizesKindedErrors(t *testing.T) {
	assert.Equal(t, KindIntegrity, KindOf(NewErrSignatureInvalid("author-1")))
	assert.Equal(t, KindMissingDependency, KindOf(NewErrMissingParent("delta-1", "parent-1")))
	assert.Equal(t, KindCapacity, KindOf(NewErrCapacityExceeded("sem", 10)))
	assert.Equal(t, KindTransport, KindOf(NewErrTimeout("dial")))
}

func TestKindOf_PlainErrorIsUnknown(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	wrapped := Wrap("while doing something", NewErrTimeout("dial"))
	assert.Equal(t, KindTransport, KindOf(wrapped))
}

func TestWrap_NilCauseReturnsPlainError(t *testing.T) {
	err := Wrap("no cause", nil)
	assert.EqualError(t, err, "no cause")
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "integrity", KindIntegrity.String())
	assert.Equal(t, "missing_dependency", KindMissingDependency.String())
	assert.Equal(t, "capacity", KindCapacity.String())
	assert.Equal(t, "transport", KindTransport.String())
	assert.Equal(t, "merge", KindMerge.String())
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestIs_DelegatesToStandardLibrary(t *testing.T) {
	base := New("base error")
	wrapped := Wrap("context", base)
	assert.True(t, Is(wrapped, base))
}
