// Package storage persists timer records per owner.
//
// Each owner's timers are one versioned XML document. The "file" driver keeps
// one document per owner in a directory; the "sqlite" driver keeps them in a
// table. Both migrate the older CBOR record files once per owner, guarded by a
// marker file.
package storage
