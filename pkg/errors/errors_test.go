package errors

import (
	"io/fs"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsSurviveWithStack(t *testing.T) {
	tests := []struct {
		name string
		err  error
		as   func(error) bool
	}{
		{
			name: "not initialized",
			err:  NewNotInitializedError("Proxy", "TrainStep"),
			as:   func(err error) bool { var e *NotInitializedError; return As(err, &e) },
		},
		{
			name: "insufficient data",
			err:  NewInsufficientDataError("sample", 32, 5),
			as:   func(err error) bool { var e *InsufficientDataError; return As(err, &e) },
		},
		{
			name: "load",
			err:  NewLoadError("/tmp/nope", os.ErrNotExist),
			as:   func(err error) bool { var e *LoadError; return As(err, &e) },
		},
		{
			name: "ambiguous mask source",
			err:  NewAmbiguousMaskSourceError("line_status", "bogus"),
			as:   func(err error) bool { var e *AmbiguousMaskSourceError; return As(err, &e) },
		},
		{
			name: "dimension",
			err:  NewDimensionError("store", 4, 3),
			as:   func(err error) bool { var e *DimensionError; return As(err, &e) },
		},
		{
			name: "value",
			err:  NewValueError("validate", "capacity must be positive"),
			as:   func(err error) bool { var e *ValueError; return As(err, &e) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.True(t, tt.as(tt.err), "errors.As must see through the stack annotation")
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestInsufficientDataErrorFields(t *testing.T) {
	err := NewInsufficientDataError("Buffer.Sample", 32, 7)
	var e *InsufficientDataError
	require.True(t, As(err, &e))
	assert.Equal(t, "Buffer.Sample", e.Op)
	assert.Equal(t, 32, e.Needed)
	assert.Equal(t, 7, e.Have)
}

func TestLoadErrorUnwrapsCause(t *testing.T) {
	err := NewLoadError("/model/metadata.json", fs.ErrNotExist)
	assert.True(t, Is(err, fs.ErrNotExist))
	var e *LoadError
	require.True(t, As(err, &e))
	assert.Equal(t, "/model/metadata.json", e.Path)
}

func TestWarningHandler(t *testing.T) {
	var captured []error
	SetWarningHandler(func(w error) { captured = append(captured, w) })
	defer SetWarningHandler(nil)

	Warn(NewMaskSourceWarning("line_status"))
	require.Len(t, captured, 1)
	var w *MaskSourceWarning
	require.True(t, As(captured[0], &w))
	assert.Equal(t, "line_status", w.Attr)
}

func TestWarnWithNilHandlerIsSilent(t *testing.T) {
	SetWarningHandler(nil)
	defer SetWarningHandler(func(w error) {})
	Warn(NewMaskSourceWarning("line_status"))
}
