// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Dataset indexing constants
const (
	// AppendBatchSize is the number of indexed faces buffered before appending to the bundle
	AppendBatchSize = 500

	// MinFaceScore is the minimum detector confidence for a face to be indexed
	MinFaceScore = 0.5

	// FramesExt is the extension of extracted video frames
	FramesExt = ".jpg"
)

// Client constants
const (
	// DefaultClientTimeout bounds one client request, training included
	DefaultClientTimeout = 2 * time.Minute

	// DefaultTopResults is the number of ranked results the client prints
	DefaultTopResults = 10
)

// Postgres mirror constants
const (
	// MirrorBatchSize is the number of dataset faces inserted per transaction
	MirrorBatchSize = 1000
)
