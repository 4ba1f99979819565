package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/grovekit/grove/internal/storage"
)

// SyncState records what the index last saw for a source file. The checksum
// lets the synchronizer skip reindexing files whose content did not change.
type SyncState struct {
	FilePath     string
	LastModified time.Time
	LastSynced   time.Time
	Checksum     string
}

// SyncStateRepository persists per-file synchronization state.
type SyncStateRepository struct {
	store *storage.Store
}

// NewSyncStateRepository creates a sync-state repository on the given store.
func NewSyncStateRepository(store *storage.Store) *SyncStateRepository {
	return &SyncStateRepository{store: store}
}

// Get returns the recorded state for a file, or storage.ErrNotFound.
func (r *SyncStateRepository) Get(ctx context.Context, filePath string) (*SyncState, error) {
	var state SyncState
	err := r.store.Querier().QueryRowContext(ctx, `
		SELECT file_path, last_modified, last_synced, checksum
		FROM file_sync_state WHERE file_path = ?
	`, filePath).Scan(&state.FilePath, &state.LastModified, &state.LastSynced, &state.Checksum)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Upsert records or refreshes the state for a file.
func (r *SyncStateRepository) Upsert(ctx context.Context, state *SyncState) error {
	_, err := r.store.Querier().ExecContext(ctx, `
		INSERT INTO file_sync_state (file_path, last_modified, last_synced, checksum)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			last_modified = excluded.last_modified,
			last_synced = excluded.last_synced,
			checksum = excluded.checksum
	`, state.FilePath, state.LastModified, state.LastSynced, state.Checksum)
	return err
}

// Delete forgets the state for a file. Deleting unknown state is a no-op.
func (r *SyncStateRepository) Delete(ctx context.Context, filePath string) error {
	_, err := r.store.Querier().ExecContext(ctx,
		`DELETE FROM file_sync_state WHERE file_path = ?`, filePath)
	return err
}
