// Package testutil provides shared test helpers for numeric and HTTP
// assertions.
package testutil

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// AssertVecNear checks each component of got against want within tol.
func AssertVecNear(t *testing.T, got, want r3.Vec, tol float64) {
	t.Helper()
	if !near(got.X, want.X, tol) || !near(got.Y, want.Y, tol) || !near(got.Z, want.Z, tol) {
		t.Errorf("vector = (%g, %g, %g), want (%g, %g, %g) within %g",
			got.X, got.Y, got.Z, want.X, want.Y, want.Z, tol)
	}
}

// AssertSymNear checks two symmetric matrices element-wise within tol.
func AssertSymNear(t *testing.T, got, want mat.Symmetric, tol float64) {
	t.Helper()
	if got.SymmetricDim() != want.SymmetricDim() {
		t.Fatalf("dimension = %d, want %d", got.SymmetricDim(), want.SymmetricDim())
	}
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("matrix mismatch within %g:\ngot  %v\nwant %v",
			tol, mat.Formatted(got, mat.Squeeze()), mat.Formatted(want, mat.Squeeze()))
	}
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
