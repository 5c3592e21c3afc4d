// Package require contains test assertions.
package require

import (
	"reflect"
	"testing"

	"github.com/izio7/tensorboard/src/internal/errors"
)

func logMessage(tb testing.TB, msgAndArgs ...interface{}) {
	tb.Helper()
	if len(msgAndArgs) == 1 {
		tb.Logf("%s", msgAndArgs[0])
	}
	if len(msgAndArgs) > 1 {
		tb.Logf(msgAndArgs[0].(string), msgAndArgs[1:]...)
	}
}

// Equal fails the test if expected and actual are not deeply equal.
func Equal(tb testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if !reflect.DeepEqual(expected, actual) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Not equal: %#v (expected)\n"+
			"        != %#v (actual)", expected, actual)
	}
}

// NotEqual fails the test if expected and actual are deeply equal.
func NotEqual(tb testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if reflect.DeepEqual(expected, actual) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Should not be equal: %#v", actual)
	}
}

// NoError fails the test if err is non-nil.
func NoError(tb testing.TB, err error, msgAndArgs ...interface{}) {
	tb.Helper()
	if err != nil {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("No error is expected but got %+v", err)
	}
}

// YesError fails the test if err is nil.
func YesError(tb testing.TB, err error, msgAndArgs ...interface{}) {
	tb.Helper()
	if err == nil {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Error is expected but got nil")
	}
}

// ErrorIs fails the test if target is not in err's chain.
func ErrorIs(tb testing.TB, err, target error, msgAndArgs ...interface{}) {
	tb.Helper()
	if !errors.Is(err, target) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected error chain of %v to contain %v", err, target)
	}
}

// True fails the test if value is false.
func True(tb testing.TB, value bool, msgAndArgs ...interface{}) {
	tb.Helper()
	if !value {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Should be true")
	}
}

// False fails the test if value is true.
func False(tb testing.TB, value bool, msgAndArgs ...interface{}) {
	tb.Helper()
	if value {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Should be false")
	}
}

func isNil(object interface{}) bool {
	if object == nil {
		return true
	}
	value := reflect.ValueOf(object)
	kind := value.Kind()
	return kind >= reflect.Chan && kind <= reflect.Slice && value.IsNil()
}

// Nil fails the test if object is non-nil.
func Nil(tb testing.TB, object interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if !isNil(object) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected value to be nil, got %#v", object)
	}
}

// NotNil fails the test if object is nil.
func NotNil(tb testing.TB, object interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	if isNil(object) {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected value not to be nil.")
	}
}

// Len fails the test if object does not have length expected.
func Len(tb testing.TB, object interface{}, expected int, msgAndArgs ...interface{}) {
	tb.Helper()
	value := reflect.ValueOf(object)
	if value.Len() != expected {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Expected length %d, got %d: %#v", expected, value.Len(), object)
	}
}

// ElementsEqual fails the test if expected and actual do not contain the same
// elements, ignoring order.  Both arguments must be slices.
func ElementsEqual(tb testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	tb.Helper()
	ev := reflect.ValueOf(expected)
	av := reflect.ValueOf(actual)
	if ev.Len() != av.Len() {
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Unequal lengths: %d (expected) != %d (actual)", ev.Len(), av.Len())
	}
	used := make([]bool, av.Len())
outer:
	for i := 0; i < ev.Len(); i++ {
		for j := 0; j < av.Len(); j++ {
			if !used[j] && reflect.DeepEqual(ev.Index(i).Interface(), av.Index(j).Interface()) {
				used[j] = true
				continue outer
			}
		}
		logMessage(tb, msgAndArgs...)
		tb.Fatalf("Missing element %#v in %#v", ev.Index(i).Interface(), actual)
	}
}
