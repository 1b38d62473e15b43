package store

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Meta is the YAML front matter written at the top of markdown artifacts.
type Meta struct {
	Topic    string    `yaml:"topic"`
	Artifact string    `yaml:"artifact"`
	RunID    string    `yaml:"run_id,omitempty"`
	Created  time.Time `yaml:"created"`
	Model    string    `yaml:"model,omitempty"`
	Fallback bool      `yaml:"fallback,omitempty"`
}

func writeFrontMatter(meta Meta, body []byte) ([]byte, error) {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	if !bytes.HasSuffix(body, []byte("\n")) {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// parseFrontMatter splits a document into its metadata and body. A document
// without a leading "---" fence is all body.
func parseFrontMatter(content []byte) (Meta, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Meta{}, normalized, nil
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Meta{}, nil, fmt.Errorf("malformed front matter")
	}
	var meta Meta
	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("parse front matter: %w", err)
	}
	return meta, bytes.TrimLeft(parts[1], "\n"), nil
}
