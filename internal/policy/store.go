package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load reads a Policy from path, returning the built-in Default if the file
// does not exist.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var p Policy
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	if p.ConsentMode == "" {
		p.ConsentMode = ConsentOnce
	}
	return &p, nil
}

// Save writes p to path atomically: encode to a temp file in the same
// directory, then rename over the destination.
func Save(path string, p *Policy) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".policy-*.toml")
	if err != nil {
		return fmt.Errorf("create temp policy file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(p); err != nil {
		tmp.Close()
		return fmt.Errorf("encode policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp policy file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp policy file into place: %w", err)
	}
	return nil
}
