// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package backup encodes license snapshots as JSON documents and stores them on disk.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/keyward/keyward/internal/models"
)

// Encode writes snap as an indented JSON document.
func Encode(w io.Writer, snap *models.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(normalize(snap)); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	return nil
}

func Marshal(snap *models.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a backup document. Events that reference a license missing
// from the document are rejected.
func Decode(r io.Reader) (*models.Snapshot, error) {
	var snap models.Snapshot

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}

	known := make(map[int64]struct{}, len(snap.Licenses))
	for i, l := range snap.Licenses {
		if l == nil {
			return nil, fmt.Errorf("backup license #%d is null", i)
		}
		if _, dup := known[l.ID]; dup {
			return nil, fmt.Errorf("backup contains license %d twice", l.ID)
		}
		known[l.ID] = struct{}{}
	}

	for i, e := range snap.IPChangeEvents {
		if e == nil {
			return nil, fmt.Errorf("backup ip change event #%d is null", i)
		}
		if _, ok := known[e.LicenseID]; !ok {
			return nil, fmt.Errorf("ip change event %d references unknown license %d", e.ID, e.LicenseID)
		}
	}

	return normalize(&snap), nil
}

// WriteFile stores the snapshot at path, replacing any previous backup
// atomically through a temporary file in the same directory.
func WriteFile(path string, snap *models.Snapshot) ([]byte, error) {
	data, err := Marshal(snap)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".backup-*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary backup file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close backup: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("failed to move backup into place: %w", err)
	}

	return data, nil
}

func ReadFile(path string) (*models.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// normalize replaces nil slices so empty stores encode as [] rather than null.
func normalize(snap *models.Snapshot) *models.Snapshot {
	out := *snap
	if out.Licenses == nil {
		out.Licenses = []*models.License{}
	}
	if out.IPChangeEvents == nil {
		out.IPChangeEvents = []*models.IPChangeEvent{}
	}
	return &out
}
