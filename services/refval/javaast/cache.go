// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package javaast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of parsed files kept by NewCache(0).
const DefaultCacheSize = 4096

// Cache memoizes parsed files by path and content hash.
//
// A working copy is restored to identical bytes after every candidate, so
// most files parse once per batch.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	files *lru.Cache[string, *File]
}

// NewCache creates a cache holding up to size files.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	files, err := lru.New[string, *File](size)
	if err != nil {
		return nil, fmt.Errorf("create parse cache: %w", err)
	}
	return &Cache{files: files}, nil
}

// Parse returns the cached index for (path, src) or parses it.
func (c *Cache) Parse(ctx context.Context, path string, src []byte) (*File, error) {
	sum := sha256.Sum256(src)
	key := path + "\x00" + hex.EncodeToString(sum[:])
	if f, ok := c.files.Get(key); ok {
		recordCacheLookup(ctx, true)
		return f, nil
	}
	recordCacheLookup(ctx, false)

	f, err := Parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	c.files.Add(key, f)
	return f, nil
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	return c.files.Len()
}

// Purge drops every cached file.
func (c *Cache) Purge() {
	c.files.Purge()
}
