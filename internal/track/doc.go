// Package track owns the perigee track parameterisation used by the
// vertexing packages.
//
// Responsibilities: the bound parameter vector (d0, z0, phi, theta, q/p)
// with its covariance and reference point, momentum reconstruction, and
// angle periodicity correction.
// Key types: Parameters.
//
// Dependency rule: track depends only on gonum. It never imports vertex,
// linearize or any storage package.
package track
