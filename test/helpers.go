// Package test has helpers shared by the tests of the other packages.
package test

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// MustBe uses reflect.DeepEqual to assert that thing1 and thing2 are equal, and
// fails otherwise.
func MustBe(t testing.TB, thing1, thing2 interface{}, context ...string) {
	t.Helper()
	var ctx string
	if len(context) > 0 {
		ctx = context[0] + ": "
	}
	if !reflect.DeepEqual(thing1, thing2) {
		t.Fatalf("%v'%#v' != '%#v'", ctx, thing1, thing2)
	}
}

// ErrNil asserts that the err is nil and fails otherwise.
func ErrNil(t testing.TB, err error, ctx string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%v: %v", ctx, err)
	}
}

// ErrIs asserts that err wraps target.
func ErrIs(t testing.TB, err, target error, ctx string) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("%v: expected an error wrapping '%v', got '%v'", ctx, target, err)
	}
}

// Points gets n point features with ids "1" to "n", a "name" property and
// coordinates spread along the equator.
func Points(n int) []*geojson.Feature {
	fs := make([]*geojson.Feature, n)
	for i := range fs {
		f := geojson.NewFeature(orb.Point{float64(i), 0})
		f.ID = fmt.Sprint(i + 1)
		f.Properties["name"] = fmt.Sprintf("feature %d", i+1)
		fs[i] = f
	}
	return fs
}
