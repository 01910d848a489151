// Package report accumulates the hierarchical facts of an import run:
// project / device / deployment / village / talking book, each with
// string attributes in insertion order.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Report class and root attribute of an import.
const (
	ReportClassImport = "import-stats"
	AttrZipFile       = "Zip File"
)

// Attribute names recorded during an import.
const (
	AttrMissingDirectory            = "MissingDirectory"
	AttrCorruptTBZip                = "CorruptTBZip"
	AttrCorruptStatisticsDir        = "CorruptStatisticsDir"
	AttrSyncDirNoOpData             = "SyncDirNoOpData"
	AttrOpDataNoSyncDir             = "OpDataNoSyncDir"
	AttrIncorrectPropValue          = "IncorrectPropValue"
	AttrUnexpectedOperationalAction = "UnexpectedOperationalAction"
	AttrCorruptOperationalLine      = "CorruptOperationalLine"
	AttrNumLogFiles                 = "NumLogFiles"
	AttrNumLogFilesWithErrors       = "NumLogFilesWithErrors"
	AttrNumLogFileErrors            = "NumLogFileErrors"
	AttrOperationalLogsAppended     = "OperationalLogsAppended"
	AttrOperationalLogError         = "OperationaLogError"
)

// Attribute is one key/value fact on a node.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Node is one level of the tree.
type Node struct {
	Name       string      `json:"name"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Children   []*Node     `json:"children,omitempty"`
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	c := &Node{Name: name}
	n.Children = append(n.Children, c)
	return c
}

func (n *Node) find(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Set stores a value, replacing any earlier value of key in place.
func (n *Node) Set(key, value string) {
	for i := range n.Attributes {
		if n.Attributes[i].Key == key {
			n.Attributes[i].Value = value
			return
		}
	}
	n.Attributes = append(n.Attributes, Attribute{Key: key, Value: value})
}

// Get returns the value of key.
func (n *Node) Get(key string) (string, bool) {
	for _, a := range n.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// ResultTree is the report of one import.
type ResultTree struct {
	ReportClass string `json:"reportClass"`
	Root        *Node  `json:"root"`
}

// NewResultTree creates a tree whose root records the package it describes.
func NewResultTree(zipFile string) *ResultTree {
	root := &Node{Name: "import"}
	root.Set(AttrZipFile, zipFile)
	return &ResultTree{ReportClass: ReportClassImport, Root: root}
}

// Node returns the node at path, creating missing levels. An empty path is the root.
func (t *ResultTree) Node(path ...string) *Node {
	n := t.Root
	for _, p := range path {
		n = n.child(p)
	}
	return n
}

// Lookup returns the node at path without creating it.
func (t *ResultTree) Lookup(path ...string) *Node {
	n := t.Root
	for _, p := range path {
		if n = n.find(p); n == nil {
			return nil
		}
	}
	return n
}

// Set records key=value at path.
func (t *ResultTree) Set(path []string, key, value string) {
	t.Node(path...).Set(key, value)
}

// Get returns the value of key at path.
func (t *ResultTree) Get(path []string, key string) (string, bool) {
	n := t.Lookup(path...)
	if n == nil {
		return "", false
	}
	return n.Get(key)
}

// Add adds delta to an integer attribute at path.
func (t *ResultTree) Add(path []string, key string, delta int) {
	n := t.Node(path...)
	current := 0
	if v, ok := n.Get(key); ok {
		current, _ = strconv.Atoi(v)
	}
	n.Set(key, strconv.Itoa(current+delta))
}

// AddProject creates the project level.
func (t *ResultTree) AddProject(project string) *Node {
	return t.Node(project)
}

// AddDeployment creates the project/device/deployment levels.
func (t *ResultTree) AddDeployment(project, device, deployment string) *Node {
	return t.Node(project, device, deployment)
}

// AddVillage creates the levels down to a village.
func (t *ResultTree) AddVillage(project, device, deployment, village string) *Node {
	return t.Node(project, device, deployment, village)
}

// AddTalkingBook creates the levels down to a talking book.
func (t *ResultTree) AddTalkingBook(project, device, deployment, village, talkingBook string) *Node {
	return t.Node(project, device, deployment, village, talkingBook)
}

// Row is one attribute flattened with the path of its node.
type Row struct {
	Path  []string `json:"path"`
	Key   string   `json:"key"`
	Value string   `json:"value"`
}

// Rows flattens the tree depth-first in insertion order.
func (t *ResultTree) Rows() []Row {
	var rows []Row
	var walk func(n *Node, path []string)
	walk = func(n *Node, path []string) {
		for _, a := range n.Attributes {
			rows = append(rows, Row{Path: append([]string(nil), path...), Key: a.Key, Value: a.Value})
		}
		for _, c := range n.Children {
			walk(c, append(path, c.Name))
		}
	}
	walk(t.Root, nil)
	return rows
}

// Count returns how many nodes carry key.
func (t *ResultTree) Count(key string) int {
	count := 0
	for _, r := range t.Rows() {
		if r.Key == key {
			count++
		}
	}
	return count
}

// WriteText renders the tree indented two spaces per level, one "key : value" per attribute.
func (t *ResultTree) WriteText(w io.Writer) error {
	var write func(n *Node, depth int) error
	write = func(n *Node, depth int) error {
		indent := strings.Repeat("  ", depth)
		if depth > 0 {
			if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth-1), n.Name); err != nil {
				return err
			}
		}
		for _, a := range n.Attributes {
			if _, err := fmt.Fprintf(w, "%s%s : %s\n", indent, a.Key, a.Value); err != nil {
				return err
			}
		}
		for _, c := range n.Children {
			if err := write(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return write(t.Root, 0)
}

// String renders the tree as text.
func (t *ResultTree) String() string {
	var sb strings.Builder
	_ = t.WriteText(&sb)
	return sb.String()
}
