package snapshot

import (
	"github.com/Sumatoshi-tech/cochange/pkg/persist"
)

// Save writes snap to path with the given codec.
func Save(path string, codec persist.Codec, snap Snapshot) error {
	return persist.SaveFile(path, codec, &snap)
}

// Load reads a document from path, choosing the codec from the extension.
func Load(path string) (Snapshot, error) {
	p, err := persist.NewPersister[Snapshot](path)
	if err != nil {
		return Snapshot{}, err
	}

	snap, err := p.Load()
	if err != nil {
		return Snapshot{}, err
	}

	return *snap, nil
}
