package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a document encoding.
type Format uint8

const (
	JSON Format = iota
	YAML
)

func (f Format) String() string {
	if f == YAML {
		return "yaml"
	}
	return "json"
}

// FormatOf picks the format by file extension: .yaml and .yml are YAML,
// anything else JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Unmarshal parses data into a generic record.
func Unmarshal(data []byte, f Format) (Record, error) {
	var v any
	switch f {
	case YAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		v = normalize(v)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		v = normalize(v)
	}
	rec, ok := v.(Record)
	if !ok {
		return nil, fmt.Errorf("%w: document is not a record", ErrConfiguration)
	}
	return rec, nil
}

// normalize converts YAML maps with non-string keys into records, and JSON
// numbers into int64 when they are integral and in range, float64 otherwise.
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	case map[string]any:
		for k, x := range v {
			v[k] = normalize(x)
		}
		return v
	case map[any]any:
		out := make(Record, len(v))
		for k, x := range v {
			out[fmt.Sprint(k)] = normalize(x)
		}
		return out
	case []any:
		for i, x := range v {
			v[i] = normalize(x)
		}
	}
	return v
}

// Marshal renders rec. Object keys are sorted in both formats, so equal
// documents encode to equal bytes.
func Marshal(rec Record, f Format) ([]byte, error) {
	if f == YAML {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode loads a document from data.
func Decode(data []byte, f Format) (*Document, error) {
	rec, err := Unmarshal(data, f)
	if err != nil {
		return nil, err
	}
	return DecodeTool(rec)
}

// Encode renders doc.
func Encode(doc *Document, f Format) ([]byte, error) {
	rec, err := EncodeTool(doc)
	if err != nil {
		return nil, err
	}
	return Marshal(rec, f)
}

// Load reads the document at path. Like Decode, it may return a usable
// document together with configuration errors.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(data, FormatOf(path))
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
	}
	return doc, err
}

// Save writes doc to path atomically, in the format its extension selects.
func Save(path string, doc *Document) error {
	data, err := Encode(doc, FormatOf(path))
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}
