package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrCharacterExists is returned by [RenameCharacterFile] when newID already
// has a book assignment.
var ErrCharacterExists = errors.New("config: character already assigned")

// RenameCharacterFile moves the book assignment of oldID to newID in the
// YAML file at path. Only the key is edited; comments and the rest of the
// document are kept. It reports whether an assignment was moved. The file is
// replaced atomically and only if the edited document still validates.
func RenameCharacterFile(path, oldID, newID string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("config: rename character: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("config: rename character: %w", err)
	}
	if _, taken := cfg.Memory.BookAssignments[newID]; taken && oldID != newID {
		return false, fmt.Errorf("%w: %q", ErrCharacterExists, newID)
	}
	if !cfg.Memory.RenameCharacter(oldID, newID) {
		return false, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("config: rename character: %w", err)
	}
	key := mappingKey(&doc, "rememory", "book_assignments", oldID)
	if key == nil {
		return false, fmt.Errorf("config: rename character: %q not found in %s", oldID, path)
	}
	key.Value = newID

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return false, fmt.Errorf("config: rename character: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return false, fmt.Errorf("config: rename character: encode: %w", err)
	}
	if _, err := LoadFromReader(bytes.NewReader(buf.Bytes())); err != nil {
		return false, fmt.Errorf("config: rename character: edited config invalid: %w", err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return false, fmt.Errorf("config: rename character: %w", err)
	}
	return true, nil
}

// mappingKey walks nested mappings along path and returns the key node of
// the last element, or nil.
func mappingKey(n *yaml.Node, path ...string) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	for i, name := range path {
		if n.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for j := 0; j+1 < len(n.Content); j += 2 {
			if n.Content[j].Value == name {
				if i == len(path)-1 {
					return n.Content[j]
				}
				next = n.Content[j+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		n = next
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
