package storage

// NodeStore bundles every typed store over one shared database. The
// embedded stores satisfy the consumer-side interfaces directly:
// consensus.StateStore and consensus.Database, prover.ProofStore,
// writer.Store, bridge.TxStateStore.
type NodeStore struct {
	ps *PersistenceStore

	*SyncEventStore
	*ClientStateStore
	*L2BlockStore
	*ManifestStore
	*ChainstateStore
	*CheckpointStore
	*ProofStore
	*WriterStore
	*BridgeTxStore
}

// NewNodeStore opens the node database at path; an empty path runs
// in memory.
func NewNodeStore(path string) (*NodeStore, error) {
	ps, err := NewPersistenceStore(path)
	if err != nil {
		return nil, err
	}
	return &NodeStore{
		ps:               ps,
		SyncEventStore:   NewSyncEventStore(ps),
		ClientStateStore: NewClientStateStore(ps),
		L2BlockStore:     NewL2BlockStore(ps),
		ManifestStore:    NewManifestStore(ps),
		ChainstateStore:  NewChainstateStore(ps),
		CheckpointStore:  NewCheckpointStore(ps),
		ProofStore:       NewProofStore(ps),
		WriterStore:      NewWriterStore(ps),
		BridgeTxStore:    NewBridgeTxStore(ps),
	}, nil
}

func (n *NodeStore) Close() error {
	return n.ps.Close()
}
