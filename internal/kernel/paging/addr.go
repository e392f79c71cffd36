package paging

import "unsafe"

// uintptrOf gives a stable identity token for a manager, standing in
// for "the physical address of its root directory" in this portable
// implementation (see Manager.CR3).
func uintptrOf(m *Manager) uintptr {
	return uintptr(unsafe.Pointer(m))
}
