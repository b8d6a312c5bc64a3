// Package simulate generates synthetic vertex events: a true vertex, a
// set of straight tracks leaving it and Gaussian-smeared perigee
// measurements of those tracks. Truth is retained for pull studies.
package simulate
