package workspace

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type NodeKind string

const (
	KindFile   NodeKind = "file"
	KindFolder NodeKind = "folder"
)

// TreeNode is one entry in a workspace file tree. Siblings are ordered
// lexicographically by name; Children is non-nil iff the node is a folder.
type TreeNode struct {
	Name     string     `json:"name"`
	Kind     NodeKind   `json:"type"`
	Path     string     `json:"path"`
	Children []TreeNode `json:"children,omitempty"`
}

// denylist holds directory names excluded from tree reconstruction at
// every depth: VCS metadata, dependency caches, virtualenvs, build output.
var denylist = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"__pycache__":   true,
	".next":         true,
	".venv":         true,
	"venv":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"dist":          true,
	"build":         true,
	".tox":          true,
	".eggs":         true,
}

// BuildTree reconstructs the workspace file tree. It never fails: any
// underlying error is logged and yields an empty tree, since a stale view
// is preferable to terminating the session over a transient listing error.
func BuildTree(ctx context.Context, w *Workspace) []TreeNode {
	nodes, err := TryBuildTree(ctx, w)
	if err != nil {
		log.Printf("workspace: tree build failed: %v", err)
		return []TreeNode{}
	}
	return nodes
}

// TryBuildTree is BuildTree with the failure surfaced, for callers that
// want to skip pushing a refresh rather than push an empty tree.
func TryBuildTree(ctx context.Context, w *Workspace) ([]TreeNode, error) {
	if w.IsLocal() {
		return buildLocalTree(w.root)
	}
	return buildRemoteTree(ctx, w.runner, w.root)
}

// buildLocalTree walks the directory recursively. Denylisted and
// dot-prefixed directories are pruned at every depth, not only the root.
func buildLocalTree(root string) ([]TreeNode, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}
	return walkDir(root, root), nil
}

func walkDir(dir, root string) []TreeNode {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("workspace: read dir %s: %v", dir, err)
		return []TreeNode{}
	}

	nodes := []TreeNode{}
	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)
		rel, err := filepath.Rel(root, full)
		if err != nil {
			continue
		}

		if entry.IsDir() {
			if denylist[name] || strings.HasPrefix(name, ".") {
				continue
			}
			nodes = append(nodes, TreeNode{
				Name:     name,
				Kind:     KindFolder,
				Path:     "/" + rel,
				Children: walkDir(full, root),
			})
		} else {
			nodes = append(nodes, TreeNode{
				Name: name,
				Kind: KindFile,
				Path: "/" + rel,
			})
		}
	}

	// ReadDir sorts by name already; keep the invariant explicit.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes
}

// trieNode is the intermediate form used to fold the remote find output
// back into a hierarchy.
type trieNode struct {
	children map[string]*trieNode
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

func (n *trieNode) insert(segments []string) {
	cur := n
	for _, seg := range segments {
		child, ok := cur.children[seg]
		if !ok {
			child = newTrieNode()
			cur.children[seg] = child
		}
		cur = child
	}
}

// buildRemoteTree reconstructs the tree from two command round trips: a
// pruned recursive enumeration of every surviving path, and a
// directory-only enumeration used as ground truth so empty directories
// are not mistaken for files.
func buildRemoteTree(ctx context.Context, runner Runner, root string) ([]TreeNode, error) {
	prune := pruneExpr()

	listCmd := fmt.Sprintf("find %s %s-print 2>/dev/null | sort", root, prune)
	res, err := runner.ExecuteCommand(ctx, listCmd)
	if err != nil {
		return nil, fmt.Errorf("remote enumeration: %w", err)
	}

	trie := newTrieNode()
	count := 0
	for _, line := range strings.Split(res.Stdout, "\n") {
		rel := relativize(strings.TrimSpace(line), root)
		if rel == "" {
			continue
		}
		trie.insert(strings.Split(rel, "/"))
		count++
	}
	if count == 0 {
		return []TreeNode{}, nil
	}

	dirCmd := fmt.Sprintf("find %s %s-type d -print 2>/dev/null", root, prune)
	dirRes, err := runner.ExecuteCommand(ctx, dirCmd)
	if err != nil {
		return nil, fmt.Errorf("remote dir enumeration: %w", err)
	}

	dirSet := make(map[string]bool)
	for _, line := range strings.Split(dirRes.Stdout, "\n") {
		if rel := relativize(strings.TrimSpace(line), root); rel != "" {
			dirSet[rel] = true
		}
	}

	return convertTrie(trie, "", dirSet), nil
}

// pruneExpr renders the denylist as a find prune expression, one
// "-name X -prune -o" clause per entry in stable order.
func pruneExpr() string {
	names := make([]string, 0, len(denylist))
	for name := range denylist {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "-name %s -prune -o ", name)
	}
	return b.String()
}

// relativize strips the root prefix and surrounding slashes. The root
// itself and blank lines map to "".
func relativize(path, root string) string {
	if path == "" || path == root {
		return ""
	}
	if strings.HasPrefix(path, root) {
		path = path[len(root):]
	}
	return strings.Trim(path, "/")
}

// convertTrie flattens the trie into the exported schema. A node is a
// folder if it has children or its relative path is in the directory set.
func convertTrie(node *trieNode, parent string, dirSet map[string]bool) []TreeNode {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := []TreeNode{}
	for _, name := range names {
		child := node.children[name]
		rel := name
		if parent != "" {
			rel = parent + "/" + name
		}

		if len(child.children) > 0 || dirSet[rel] {
			nodes = append(nodes, TreeNode{
				Name:     name,
				Kind:     KindFolder,
				Path:     "/" + rel,
				Children: convertTrie(child, rel, dirSet),
			})
		} else {
			nodes = append(nodes, TreeNode{
				Name: name,
				Kind: KindFile,
				Path: "/" + rel,
			})
		}
	}
	return nodes
}
