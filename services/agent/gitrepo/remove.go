// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitrepo

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// removeTree deletes a clone directory, escalating through three
// strategies. Git object files are written read-only, which makes a plain
// RemoveAll fail on some platforms, so the first escalation repairs
// permissions before retrying. As a last resort the directory is renamed
// aside so the path is free even though the bytes linger.
func removeTree(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	logger.Warn("plain removal failed, repairing permissions", slog.String("path", path))
	repairPermissions(path)
	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	aside := fmt.Sprintf("%s.stale.%d", path, time.Now().UnixNano())
	if err := os.Rename(path, aside); err != nil {
		return fmt.Errorf("removing %s: rename aside failed: %w", path, err)
	}
	logger.Warn("renamed stale clone aside",
		slog.String("path", path),
		slog.String("aside", aside))
	return nil
}

// repairPermissions makes every entry under root writable by its owner.
// Walk errors are ignored; the subsequent RemoveAll decides success.
func repairPermissions(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		_ = os.Chmod(p, info.Mode()|0o200)
		return nil
	})
}
