// Package moduleset 提供请求模块集合的规范化表示，集合的 Key 与构造顺序无关，可直接作为缓存键。
package moduleset

import (
	"regexp"
	"sort"
	"strings"
)

// KeyDelimiter 拼接规范化 Specifier 时使用的固定分隔符。
const KeyDelimiter = ","

var listSeparator = regexp.MustCompile(`[\s,]+`)

// Set 是不可变、去重且有序的 Specifier 集合。
type Set struct {
	specs  []Specifier
	key    string
	pinned bool
}

// New 以任意顺序的 Specifier 构建集合，重复项按规范化写法去重。
func New(specs ...Specifier) Set {
	seen := make(map[string]Specifier, len(specs))
	for _, spec := range specs {
		seen[spec.String()] = spec
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]Specifier, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, seen[k])
	}
	return Set{
		specs: ordered,
		key:   strings.Join(keys, KeyDelimiter),
	}
}

// Parse 将字符串列表（每项可再以逗号或空白分隔）解析为集合。
func Parse(inputs []string) (Set, error) {
	var specs []Specifier
	for _, input := range inputs {
		for _, piece := range listSeparator.Split(input, -1) {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			spec, err := ParseSpecifier(piece)
			if err != nil {
				return Set{}, err
			}
			specs = append(specs, spec)
		}
	}
	return New(specs...), nil
}

// MustParse 供测试与常量使用，解析失败时 panic。
func MustParse(inputs ...string) Set {
	set, err := Parse(inputs)
	if err != nil {
		panic(err)
	}
	return set
}

// Key 返回与插入顺序无关的规范化标识。
func (s Set) Key() string { return s.key }

func (s Set) String() string { return s.key }

// Len 返回去重后的成员数量。
func (s Set) Len() int { return len(s.specs) }

// IsEmpty 表示集合内没有任何模块。
func (s Set) IsEmpty() bool { return len(s.specs) == 0 }

// Specifiers 返回成员副本，调用方修改不会影响集合本身。
func (s Set) Specifiers() []Specifier {
	return append([]Specifier(nil), s.specs...)
}

// Names 返回按字母序排列的模块名（同名不同范围只出现一次）。
func (s Set) Names() []string {
	seen := make(map[string]struct{}, len(s.specs))
	names := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		if _, ok := seen[spec.Name]; ok {
			continue
		}
		seen[spec.Name] = struct{}{}
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}

// Contains 判断集合中是否存在指定名称的模块。
func (s Set) Contains(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup 返回第一个名称匹配的 Specifier。
func (s Set) Lookup(name string) (Specifier, bool) {
	for _, spec := range s.specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return Specifier{}, false
}

// Union 合并两个集合；只有两侧都是 pinned 时结果才保持 pinned。
func (s Set) Union(other Set) Set {
	merged := New(append(s.Specifiers(), other.specs...)...)
	merged.pinned = s.pinned && other.pinned
	return merged
}

// Pin 返回标记为“已通过 shrinkwrap 锁定”的副本。
func (s Set) Pin() Set {
	s.specs = s.Specifiers()
	s.pinned = true
	return s
}

// Pinned 表示集合是否来自 shrinkwrap。
func (s Set) Pinned() bool { return s.pinned }

// IsExact 为 true 时安装结果永不过时，可使用更长的 TTL。
func (s Set) IsExact() bool {
	if s.pinned {
		return true
	}
	if len(s.specs) == 0 {
		return false
	}
	for _, spec := range s.specs {
		if !spec.IsExact() {
			return false
		}
	}
	return true
}

// Equal 基于规范化 Key 比较两个集合。
func (s Set) Equal(other Set) bool {
	return s.key == other.key
}
