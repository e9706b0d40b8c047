package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImportMedia uploads a local file into the media pool. The format is
// detected from the file content and the volume name gets the matching
// extension. It returns the new volume, whose key identifies it as a
// media reference.
func (m *Manager) ImportMedia(ctx context.Context, filePath, name string) (*VolumeInfo, error) {
	format, err := DetectImageFormat(filePath)
	if err != nil {
		return nil, fmt.Errorf("invalid media file: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat media file: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("media file %s is empty", filePath)
	}

	if name == "" {
		name = filepath.Base(filePath)
	}
	name = MediaName(name, format)

	spec := VolumeSpec{
		Name:          name,
		Format:        format,
		CapacityBytes: uint64(info.Size()),
	}
	if _, err := m.CreateVolume(ctx, m.pools.Media, spec); err != nil {
		return nil, fmt.Errorf("failed to create media volume: %w", err)
	}

	if err := m.UploadVolume(ctx, m.pools.Media, name, f, uint64(info.Size())); err != nil {
		_ = m.DeleteVolume(ctx, m.pools.Media, name)
		return nil, fmt.Errorf("failed to upload media data: %w", err)
	}

	return m.LookupVolume(ctx, m.pools.Media, name)
}

// MediaName replaces the extension of name with the one matching format.
func MediaName(name string, format VolumeFormat) string {
	want := format.extension()
	if strings.HasSuffix(name, want) {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + want
}

// ListMedia lists all volumes in the media pool.
func (m *Manager) ListMedia(ctx context.Context) ([]VolumeInfo, error) {
	return m.ListVolumes(ctx, m.pools.Media)
}

// FindMedia returns the media volume with the given name.
func (m *Manager) FindMedia(ctx context.Context, name string) (*VolumeInfo, error) {
	return m.LookupVolume(ctx, m.pools.Media, name)
}

// DeleteMedia deletes a volume from the media pool. Overlays created
// from it keep a dangling backing path, so callers confirm first.
func (m *Manager) DeleteMedia(ctx context.Context, name string) error {
	return m.DeleteVolume(ctx, m.pools.Media, name)
}
