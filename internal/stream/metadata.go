package stream

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Metadata is the capture description stored next to a waveform file.
type Metadata struct {
	CenterFrequency uint64 `json:"centerFrequency"`
	SampleRate      uint32 `json:"sampleRate"`
}

// MetadataPath returns the sidecar location for a waveform: the same name
// with a .TXT extension, ignoring a trailing .zst.
func MetadataPath(path string) string {
	if isCompressed(path) {
		path = strings.TrimSuffix(path, filepath.Ext(path))
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".TXT"
}

// ReadMetadata loads the sidecar for path. A missing sidecar returns nil
// with no error; keys that are absent stay zero.
func ReadMetadata(path string) (*Metadata, error) {
	sidecar := MetadataPath(path)

	file, err := ini.LoadSources(
		ini.LoadOptions{
			Insensitive:         true,
			IgnoreInlineComment: true,
		},
		sidecar,
	)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read metadata %s: %w", sidecar, err)
	}

	section := file.Section("")
	md := &Metadata{}

	if section.HasKey("center_frequency") {
		hz, err := section.Key("center_frequency").Uint64()
		if err != nil {
			return nil, fmt.Errorf("center_frequency in %s: %w", sidecar, err)
		}
		md.CenterFrequency = hz
	}

	if section.HasKey("sample_rate") {
		rate, err := section.Key("sample_rate").Uint()
		if err != nil {
			return nil, fmt.Errorf("sample_rate in %s: %w", sidecar, err)
		}
		md.SampleRate = uint32(rate)
	}

	return md, nil
}
