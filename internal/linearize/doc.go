// Package linearize expands tracks around a reference point for the vertex
// fitter. StraightLine covers the zero-field case, where a track is a
// straight line and its perigee parameters can be transported exactly.
package linearize
