// SPDX-FileCopyrightText: (C) 2026 knockd contributors
// SPDX-License-Identifier: Apache 2.0

package envelope

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the set of keys the validator dispatches incoming packets
// against, indexed by key id.
type Store map[KeyID]Key

// LoadDirectory reads every *.key file in dir and returns the keys
// indexed by id. Duplicate key ids across files are a configuration
// error and are rejected rather than silently keeping one (the
// original project leaves this behavior undefined; see DESIGN.md).
func LoadDirectory(dir string) (Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read key directory %q: %w", dir, err)
	}

	store := make(Store)
	var found int
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".key") {
			continue
		}
		found++

		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file %q: %w", path, err)
		}

		key, err := FromBase64(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse key file %q: %w", path, err)
		}

		if _, exists := store[key.ID]; exists {
			return nil, fmt.Errorf("duplicate key id %x loaded from %q", key.ID, path)
		}
		store[key.ID] = key
	}

	if found == 0 {
		return nil, fmt.Errorf("no .key files found in %q", dir)
	}
	return store, nil
}
