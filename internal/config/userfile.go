package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoUserConfig is returned by [LoadUserConfig] when the preferences file
// does not exist.
var ErrNoUserConfig = errors.New("config: user config not found")

// LoadUserConfig reads the preferences file at path. Keys missing from the
// file keep their [DefaultUserConfig] values; the result is clamped.
func LoadUserConfig(path string) (UserConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return UserConfig{}, fmt.Errorf("%w: %q", ErrNoUserConfig, path)
	}
	if err != nil {
		return UserConfig{}, fmt.Errorf("config: read user config %q: %w", path, err)
	}
	return DecodeUserConfig(bytes.NewReader(data))
}

// DecodeUserConfig decodes a preferences document from r on top of the
// defaults and clamps the result. Unknown keys are rejected.
func DecodeUserConfig(r io.Reader) (UserConfig, error) {
	u := DefaultUserConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&u); err != nil && !errors.Is(err, io.EOF) {
		return UserConfig{}, fmt.Errorf("config: decode user config: %w", err)
	}
	return u.Clamp(), nil
}

// WriteUserConfig atomically replaces the preferences file at path with u.
func WriteUserConfig(path string, u UserConfig) error {
	data, err := yaml.Marshal(u)
	if err != nil {
		return fmt.Errorf("config: encode user config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("config: write user config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: write user config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: write user config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: replace user config: %w", err)
	}
	return nil
}
