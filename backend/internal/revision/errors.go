package revision

import (
	"errors"

	"folderSync/backend/internal/ot/delta"
)

var (
	// 和 delta.ErrMalformed 是同一个值，errors.Is 两边都能匹配
	ErrMalformedDelta = delta.ErrMalformed

	ErrOutOfOrder       = errors.New("OUT_OF_ORDER")
	ErrConflict         = errors.New("REVISION_CONFLICT")
	ErrDivergence       = errors.New("DIVERGENCE")
	ErrTransportFailure = errors.New("TRANSPORT_FAILURE")
	ErrNotLoaded        = errors.New("NOT_LOADED")
)
