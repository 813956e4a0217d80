package fleet

import (
	"fmt"
	"strings"
)

// NodeType 节点类型
type NodeType string

const (
	NodeDB   NodeType = "db"
	NodeCell NodeType = "cell"
)

// CLIObject 节点在 cellcli 中对应的对象名
func (t NodeType) CLIObject() string {
	if t == NodeDB {
		return "dbserver"
	}
	return "cell"
}

// Label 面向人的类型名
func (t NodeType) Label() string {
	if t == NodeDB {
		return "database"
	}
	return "cell"
}

// Node 集群中的一个节点
type Node struct {
	Name string
	Type NodeType
}

// Fleet 可访问的节点清单，启动后不变
type Fleet struct {
	DB   []string
	Cell []string

	index map[string]NodeType
}

// New 创建 Fleet；节点名去掉空白，空名与重复名被忽略
func New(db, cell []string) *Fleet {
	f := &Fleet{index: make(map[string]NodeType)}
	add := func(names []string, t NodeType) []string {
		var out []string
		for _, n := range names {
			n = strings.TrimSpace(n)
			if n == "" {
				continue
			}
			if _, dup := f.index[n]; dup {
				continue
			}
			f.index[n] = t
			out = append(out, n)
		}
		return out
	}
	f.DB = add(db, NodeDB)
	f.Cell = add(cell, NodeCell)
	return f
}

// Nodes 全部节点，数据库节点在前
func (f *Fleet) Nodes() []Node {
	out := make([]Node, 0, len(f.DB)+len(f.Cell))
	for _, n := range f.DB {
		out = append(out, Node{Name: n, Type: NodeDB})
	}
	for _, n := range f.Cell {
		out = append(out, Node{Name: n, Type: NodeCell})
	}
	return out
}

// Lookup 按名称查找节点
func (f *Fleet) Lookup(name string) (Node, bool) {
	t, ok := f.index[name]
	if !ok {
		return Node{}, false
	}
	return Node{Name: name, Type: t}, true
}

// Resolve 解析逗号分隔的节点列表并校验都属于本集群；want 非空时还要求类型一致
func (f *Fleet) Resolve(list string, want NodeType) ([]string, error) {
	names := ParseNodeList(list)
	for _, n := range names {
		t, ok := f.index[n]
		if !ok {
			return nil, fmt.Errorf("node %q is not part of the fleet", n)
		}
		if want != "" && t != want {
			return nil, fmt.Errorf("node %q is a %s node, not a %s node", n, t.Label(), want.Label())
		}
	}
	return names, nil
}

// ParseNodeList 解析逗号分隔的节点列表，去掉所有空白
func ParseNodeList(list string) []string {
	list = strings.Join(strings.Fields(list), "")
	var out []string
	for _, n := range strings.Split(list, ",") {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
