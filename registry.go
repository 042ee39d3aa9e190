package mmarr

import (
	"sync"
	"time"
)

// HandleInfo describes one open store handle, for leak diagnostics.
type HandleInfo struct {
	Path     string
	Mode     Mode
	Type     DataType
	OpenedAt time.Time
}

// handleRegistry tracks every open store in the process. Keys are *store
// tokens; open registers, Close unregisters.
var handleRegistry sync.Map // map[*store]HandleInfo

func registerHandle(s *store, info HandleInfo) {
	handleRegistry.Store(s, info)
}

func unregisterHandle(s *store) {
	handleRegistry.Delete(s)
}

// OpenHandles lists the store handles currently open in this process. The
// order is unspecified. Intended for debug tooling and leak checks in tests;
// a handle that outlives its test shows up here.
func OpenHandles() []HandleInfo {
	var infos []HandleInfo

	handleRegistry.Range(func(_, value any) bool {
		if info, ok := value.(HandleInfo); ok {
			infos = append(infos, info)
		}

		return true
	})

	return infos
}
