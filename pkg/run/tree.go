// Package run drives the whole-recipe lifecycle spec §6 names: load
// the metadata tree, select plans and tests, execute each plan through
// pkg/plan, and translate the outcome into the documented exit codes.
//
// The metadata file format itself is an explicit non-goal — this
// package's loader is a minimal reference format (a single YAML
// document shaped like types.Node, data inherited top-down) good
// enough to drive a real run, not a production fmf-compatible parser.
package run

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/tmt/pkg/types"
)

// treeDoc is the on-disk shape of one tree file: a node's own data
// plus its named children, recursively. The root document has no
// name of its own — it's always mounted at "/".
type treeDoc struct {
	Data     map[string]interface{} `yaml:"data"`
	Children map[string]treeDoc     `yaml:"children"`
}

// LoadTree reads path and builds the immutable metadata tree spec §1
// describes: every node's Data is its own keys merged over a copy of
// its parent's, so a child inherits whatever it doesn't override.
func LoadTree(path string) (*types.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("run: read tree %s: %w", path, err)
	}
	var doc treeDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("run: parse tree %s: %w", path, err)
	}
	return buildNode("/", doc, nil, path), nil
}

func buildNode(name string, doc treeDoc, parentData map[string]interface{}, source string) *types.Node {
	data := make(map[string]interface{}, len(parentData)+len(doc.Data))
	for k, v := range parentData {
		data[k] = v
	}
	for k, v := range doc.Data {
		data[k] = v
	}

	node := &types.Node{
		Name:    name,
		Data:    data,
		Sources: []string{source},
	}

	names := make([]string, 0, len(doc.Children))
	for childName := range doc.Children {
		names = append(names, childName)
	}
	sort.Strings(names)
	for _, childName := range names {
		childPath := joinNodeName(name, childName)
		node.Children = append(node.Children, buildNode(childPath, doc.Children[childName], data, source))
	}
	return node
}

func joinNodeName(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return parent + "/" + child
}
