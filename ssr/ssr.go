// Package ssr builds the signal segment representation: a raw sensor signal
// is cut into overlapping windows, every window is encoded by one shared
// convolutional encoder and a global node attention gate reweighs the
// segments against each other.
package ssr
