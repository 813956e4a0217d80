// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Sampler 工具执行过程中向 LLM 发起的嵌套补全。
// 调用是同步的，返回前不会影响外层编排循环的状态
type Sampler interface {
	Sample(ctx context.Context, prompt string) (string, error)
}

// SamplerFunc 函数形式的 Sampler
type SamplerFunc func(ctx context.Context, prompt string) (string, error)

// Sample 实现 Sampler
func (f SamplerFunc) Sample(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Handler 工具执行函数；返回的文本作为工具消息内容交给模型
type Handler func(ctx context.Context, args Args, sampler Sampler) (string, error)

// ParamType 参数类型
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param 工具参数描述
type Param struct {
	Type     ParamType
	Desc     string
	Enum     []string
	Required bool
}

// Descriptor 工具描述：名称、参数、是否只读、执行函数。注册后不再修改
type Descriptor struct {
	Name        string
	Description string
	Params      map[string]*Param
	// ReadOnly 为 true 表示不会修改节点状态，只读模式下仍可调用
	ReadOnly bool
	// ChatOnly 仅在交互对话中暴露（例如记忆工具），轮询模式下不绑定
	ChatOnly bool
	Handler  Handler
}

// RequiredParams 必填参数名，按名称排序
func (d *Descriptor) RequiredParams() []string {
	var out []string
	for name, p := range d.Params {
		if p.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ToolInfo 转换为 Eino 的工具描述
func (d *Descriptor) ToolInfo() *schema.ToolInfo {
	info := &schema.ToolInfo{Name: d.Name, Desc: d.Description}
	if len(d.Params) == 0 {
		return info
	}
	params := make(map[string]*schema.ParameterInfo, len(d.Params))
	for name, p := range d.Params {
		params[name] = &schema.ParameterInfo{
			Type:     dataType(p.Type),
			Desc:     p.Desc,
			Enum:     p.Enum,
			Required: p.Required,
		}
	}
	info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	return info
}

// JSONSchema 以 JSON Schema 对象形式描述参数
func (d *Descriptor) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	for name, p := range d.Params {
		prop := map[string]any{"type": string(p.Type), "description": p.Desc}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	out := map[string]any{"type": "object", "properties": props}
	if req := d.RequiredParams(); len(req) > 0 {
		out["required"] = req
	}
	return out
}

// Validate 检查必填参数与枚举取值
func (d *Descriptor) Validate(args Args) error {
	for _, name := range d.RequiredParams() {
		v, ok := args[name]
		if !ok || v == nil {
			return fmt.Errorf("missing required argument %q", name)
		}
	}
	for name, p := range d.Params {
		if len(p.Enum) == 0 || !args.Has(name) {
			continue
		}
		v := args.String(name)
		found := false
		for _, e := range p.Enum {
			if e == v {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("argument %q must be one of %s, got %q", name, strings.Join(p.Enum, ", "), v)
		}
	}
	return nil
}

func dataType(t ParamType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	case TypeNumber:
		return schema.Number
	case TypeBoolean:
		return schema.Boolean
	default:
		return schema.String
	}
}

// Args 模型给出的工具参数（JSON 解码结果）
type Args map[string]any

// Has 参数是否存在且非 nil
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

// String 以字符串读取参数；数字按十进制格式化，缺失时返回空串
func (a Args) String(name string) string {
	switch v := a[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// Int 以整数读取参数；字符串形式的数字也接受
func (a Args) Int(name string) (int, error) {
	switch v := a[name].(type) {
	case nil:
		return 0, fmt.Errorf("missing argument %q", name)
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q: unexpected type %T", name, v)
	}
}
