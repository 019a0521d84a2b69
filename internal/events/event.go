// Package events carries indexing lifecycle events from the components that
// produce them to the client connection.
package events

import (
	"fmt"
	"time"
)

// Kind identifies a lifecycle event.
type Kind int

const (
	ScanStarted Kind = iota + 1
	ScanFinished
	FilesLoading
	FilesLoadingProgress
	FilesLoaded
	IndexingStateChanged
)

func (k Kind) String() string {
	switch k {
	case ScanStarted:
		return "scan_started"
	case ScanFinished:
		return "scan_finished"
	case FilesLoading:
		return "files_loading"
	case FilesLoadingProgress:
		return "files_loading_progress"
	case FilesLoaded:
		return "files_loaded"
	case IndexingStateChanged:
		return "indexing_state_changed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one lifecycle notification. Fields that do not apply to Kind are
// left zero.
type Event struct {
	Kind        Kind
	OperationID uint64
	Files       uint64
	Done        uint64
	Total       uint64
	Paused      bool
	Err         error
	At          time.Time
}
