package models

import (
	"fmt"
	"strings"
)

// PathDelimiter separates the components of a message path.
const PathDelimiter = "."

// StorageFormat identifies the container format backing a representation.
type StorageFormat string

const (
	// StorageFormatMCAP is an append-only binary log container (LOG).
	StorageFormatMCAP StorageFormat = "mcap"
	// StorageFormatParquet is a columnar file with one timestamp column (COLUMNAR).
	StorageFormatParquet StorageFormat = "parquet"
)

// ParseStorageFormat validates a storage format string.
func ParseStorageFormat(s string) (StorageFormat, error) {
	switch StorageFormat(strings.ToLower(s)) {
	case StorageFormatMCAP:
		return StorageFormatMCAP, nil
	case StorageFormatParquet:
		return StorageFormatParquet, nil
	}
	return "", fmt.Errorf("%w: storage format %q", ErrUnsupported, s)
}

// CanonicalDataType is a framework-independent classification of a message
// path's native type.
type CanonicalDataType string

const (
	CanonicalArray       CanonicalDataType = "array"
	CanonicalBoolean     CanonicalDataType = "boolean"
	CanonicalByte        CanonicalDataType = "byte"
	CanonicalCategorical CanonicalDataType = "categorical"
	CanonicalImage       CanonicalDataType = "image"
	CanonicalNumber      CanonicalDataType = "number"
	CanonicalNumberArray CanonicalDataType = "number_array"
	CanonicalObject      CanonicalDataType = "object"
	CanonicalString      CanonicalDataType = "string"
	CanonicalTimestamp   CanonicalDataType = "timestamp"
	CanonicalUnknown     CanonicalDataType = "unknown"

	// Geographic points as emitted by ULog at different format versions.
	CanonicalLatDegFloat CanonicalDataType = "latdegfloat"
	CanonicalLonDegFloat CanonicalDataType = "londegfloat"
	CanonicalLatDegInt   CanonicalDataType = "latdegint"
	CanonicalLonDegInt   CanonicalDataType = "londegint"
)

// Well-known message path metadata keys.
const (
	MetadataUnit       = "unit"
	MetadataCategories = "categories"
	MetadataColumnName = "column_name"
)

// Statistics computed at ingestion time and stored in message path metadata.
const (
	StatisticCount      = "count"
	StatisticMin        = "min"
	StatisticMax        = "max"
	StatisticMean       = "mean"
	StatisticMedian     = "median"
	StatisticTrueCount  = "true_count"
	StatisticFalseCount = "false_count"
)

// AssociationType names the kind of entity a representation points at.
type AssociationType string

const (
	AssociationFile    AssociationType = "file"
	AssociationTopic   AssociationType = "topic"
	AssociationDataset AssociationType = "dataset"
)

// Association is an opaque pointer to another platform entity.
type Association struct {
	Type AssociationType `json:"association_type"`
	ID   string          `json:"association_id"`
}

// Representation points at the stored bytes backing one or more message paths.
type Representation struct {
	ID            string        `json:"representation_id"`
	TopicID       string        `json:"topic_id"`
	StorageFormat StorageFormat `json:"storage_format"`
	Association   Association   `json:"association"`
	Version       int           `json:"version"`
}

// FileID returns the backing file id, or false when the representation is not
// backed by a file.
func (r Representation) FileID() (string, bool) {
	if r.Association.Type != AssociationFile || r.Association.ID == "" {
		return "", false
	}
	return r.Association.ID, true
}

// MessagePath is a typed attribute path within a topic's records.
type MessagePath struct {
	ID                string            `json:"message_path_id"`
	TopicID           string            `json:"topic_id"`
	Path              string            `json:"message_path"`
	SourcePath        string            `json:"source_path"`
	PathInSchema      []string          `json:"path_in_schema"`
	DataType          string            `json:"data_type"`
	CanonicalDataType CanonicalDataType `json:"canonical_data_type"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
}

// Parts splits a dotted path into its components.
func Parts(path string) []string {
	return strings.Split(path, PathDelimiter)
}

// Parents returns the ancestor paths of path, nearest first.
//
//	Parents("pose.pose.position.x") == []string{"pose.pose.position", "pose.pose", "pose"}
func Parents(path string) []string {
	parts := Parts(path)
	parents := make([]string, 0, len(parts)-1)
	for i := len(parts) - 1; i > 0; i-- {
		parents = append(parents, strings.Join(parts[:i], PathDelimiter))
	}
	return parents
}

// Components returns the components to walk in a native message. The schema
// spelling wins over the (possibly character-substituted) dotted path.
func (m MessagePath) Components() []string {
	if len(m.PathInSchema) > 0 {
		return m.PathInSchema
	}
	if m.SourcePath != "" {
		return Parts(m.SourcePath)
	}
	return Parts(m.Path)
}

// Validate checks that PathInSchema reproduces SourcePath.
func (m MessagePath) Validate() error {
	if m.Path == "" {
		return fmt.Errorf("%w: message path is empty", ErrMalformed)
	}
	if len(m.PathInSchema) == 0 || m.SourcePath == "" {
		return nil
	}
	if joined := strings.Join(m.PathInSchema, PathDelimiter); joined != m.SourcePath {
		return fmt.Errorf("%w: path_in_schema %q does not reproduce source_path %q",
			ErrMalformed, joined, m.SourcePath)
	}
	return nil
}

// ColumnName is the columnar column backing this path.
func (m MessagePath) ColumnName() string {
	if name, ok := m.Metadata[MetadataColumnName].(string); ok && name != "" {
		return name
	}
	if m.SourcePath != "" {
		return m.SourcePath
	}
	return m.Path
}

// Unit returns the out-of-band time unit recorded for this path.
func (m MessagePath) Unit() (string, bool) {
	unit, ok := m.Metadata[MetadataUnit].(string)
	return unit, ok && unit != ""
}

// Categories returns the dictionary recorded for a categorical path.
func (m MessagePath) Categories() ([]any, bool) {
	categories, ok := m.Metadata[MetadataCategories].([]any)
	return categories, ok
}

// MessagePathGroup pairs a representation with the message paths it backs.
// It is the unit of work handed to a reader.
type MessagePathGroup struct {
	Representation Representation `json:"representation"`
	MessagePaths   []MessagePath  `json:"message_paths"`
}

// Paths returns the dotted paths of the group.
func (g MessagePathGroup) Paths() []string {
	paths := make([]string, len(g.MessagePaths))
	for i, mp := range g.MessagePaths {
		paths[i] = mp.Path
	}
	return paths
}

// Topic is a named, schema-bearing time series.
type Topic struct {
	ID                    string          `json:"topic_id"`
	Name                  string          `json:"topic_name"`
	MessagePaths          []MessagePath   `json:"message_paths"`
	StartTime             *int64          `json:"start_time,omitempty"`
	EndTime               *int64          `json:"end_time,omitempty"`
	DefaultRepresentation *Representation `json:"default_representation,omitempty"`
}

// TimestampPath returns the single Timestamp-typed path of the topic.
func (t Topic) TimestampPath() (MessagePath, error) {
	var found []MessagePath
	for _, mp := range t.MessagePaths {
		if mp.CanonicalDataType == CanonicalTimestamp {
			found = append(found, mp)
		}
	}
	switch len(found) {
	case 0:
		return MessagePath{}, fmt.Errorf("%w: topic %s has no timestamp message path", ErrNotFound, t.ID)
	case 1:
		return found[0], nil
	default:
		return MessagePath{}, fmt.Errorf("%w: topic %s has %d timestamp message paths", ErrMalformed, t.ID, len(found))
	}
}

// MessagePath looks up a message path by its dotted path.
func (t Topic) MessagePath(path string) (MessagePath, error) {
	for _, mp := range t.MessagePaths {
		if mp.Path == path {
			return mp, nil
		}
	}
	return MessagePath{}, fmt.Errorf("%w: topic %s has no message path %q", ErrNotFound, t.ID, path)
}
