/*
Package storage provides BoltDB-backed persistence for ensemble state.

Every case is a mount point: a directory holding one bbolt database file. Node
cells are addressed by variable key, report step, member index and phase, and
are stored in one bucket per phase as the key followed by the raw IEEE 754
bits of every element, so NaN and infinities round-trip exactly. Saves from
concurrent goroutines are coalesced with bolt's Batch.

# Architecture

	┌──────────────────── ENSEMBLE STORAGE ────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │               Registry                      │          │
	│  │  - Root: <enspath>/                         │          │
	│  │  - current -> <case>   (symlink)            │          │
	│  │  - case.log            (append-only audit)  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ Select / Open                       │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <enspath>/<case>/enkf.db           │          │
	│  │  - meta      version                        │          │
	│  │  - forecast  <key>/<step>/<iens> → Node     │          │
	│  │  - analyzed  <key>/<step>/<iens> → Node     │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

# Versioning

New mount points get LayoutVersion written into the meta bucket. Mounting a
directory written with another version fails with ErrIncompatibleVersion and
the caller is expected to stop; there is no in-place upgrade.

# Usage

	reg := storage.NewRegistry("/data/ens", vars)
	if err := reg.Select("prior"); err != nil {
		return err
	}
	defer reg.Close()

	fs := reg.Current()
	node, err := fs.Load("PORO", types.NodeID{ReportStep: 0, Iens: 3, Phase: types.PhaseForecast})
	if errors.Is(err, storage.ErrNodeNotFound) {
		// member not initialized
	}

Copying between cases goes through Copy, which can re-rank members:

	err := storage.Copy(src, dst, "PORO", storage.CopySpec{
		FromStep: 0, FromPhase: types.PhaseAnalyzed,
		ToStep: 0, ToPhase: types.PhaseForecast,
		Members: []int{0, 1, 2},
		Mapping: []int{2, 0, 1},
	})

# Concurrency

bbolt serializes writers and allows concurrent readers, so one store may be
shared by the fan-out tasks of the serializer. A mount point can only be open
once per process; Registry.Open hands back the current store instead of
mounting the same directory twice.
*/
package storage
