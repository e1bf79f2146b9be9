package report

import (
	"bytes"
	"encoding/json"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Point is one bucket of a reported series.
type Point struct {
	Label  string
	Bucket int64
	Count  int64
}

// Series is an ordered run of points, most recent first. It encodes as a
// mapping from label to count that preserves that order.
type Series []Point

// MarshalJSON implements json.Marshaler.
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(p.Count, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Series) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range s {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: p.Label},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(p.Count, 10)},
		)
	}
	return node, nil
}

// RepoCount is a repository and its event count.
type RepoCount struct {
	Repo  string
	Count int64
}

// Repos lists repositories most recently active first and encodes as an
// ordered mapping.
type Repos []RepoCount

// MarshalJSON implements json.Marshaler.
func (r Repos) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, rc := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(rc.Repo)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(rc.Count, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML implements yaml.Marshaler.
func (r Repos) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, rc := range r {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: rc.Repo},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(rc.Count, 10)},
		)
	}
	return node, nil
}

// SourceReport is the report for a single event source.
type SourceReport struct {
	Rates Series `json:"rates" yaml:"rates"`
	Total int64  `json:"total" yaml:"total"`
	Repos Repos  `json:"repos" yaml:"repos"`
}

// Report holds the per-source reports in configuration order.
type Report struct {
	Order   []string
	Sources map[string]SourceReport
}

// Single reports whether the deployment counts exactly one source.
func (r Report) Single() bool {
	return len(r.Order) == 1
}

// MarshalJSON nests by source, or emits the only source's fields at the top
// level for single-source deployments.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Single() {
		return json.Marshal(r.Sources[r.Order[0]])
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Sources[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML mirrors MarshalJSON.
func (r Report) MarshalYAML() (any, error) {
	if r.Single() {
		return r.Sources[r.Order[0]], nil
	}
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range r.Order {
		val := &yaml.Node{}
		if err := val.Encode(r.Sources[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}, val)
	}
	return node, nil
}

// YAML renders the report as a YAML document.
func (r Report) YAML() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
