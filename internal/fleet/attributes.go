package fleet

import (
	"context"
	"fmt"
	"strings"

	apperrors "fleet-copilot/pkg/errors"
)

const (
	AttrQuestion = "questionForLlm"
	AttrAnswer   = "answerFromLlm"

	// EmptyAnswer 清洗后回答为空时写入的占位文本；空回答会被视为问题尚未回答
	EmptyAnswer = "No answer could be generated for this question."
)

// Attributes 读写节点上的问答属性。
// 节点是问答状态的唯一来源：写入新问题时节点会清空旧回答
type Attributes struct {
	runner Runner
}

// NewAttributes 创建问答属性读写器
func NewAttributes(runner Runner) *Attributes {
	return &Attributes{runner: runner}
}

// Question 读取节点上待回答的问题，没有时返回空串
func (a *Attributes) Question(ctx context.Context, n Node) (string, error) {
	return a.read(ctx, n, AttrQuestion)
}

// Answer 读取节点上的回答
func (a *Attributes) Answer(ctx context.Context, n Node) (string, error) {
	return a.read(ctx, n, AttrAnswer)
}

// SetAnswer 写入回答；属性值不能包含引号，写入前会先清洗
func (a *Attributes) SetAnswer(ctx context.Context, n Node, answer string) error {
	value := SanitizeAnswer(answer)
	if value == "" {
		value = EmptyAnswer
	}
	cmd := fmt.Sprintf(`cellcli -e "alter %s %s=\"%s\""`, n.Type.CLIObject(), AttrAnswer, escapeShell(value))
	out, err := a.runner.Run(ctx, []string{n.Name}, cmd)
	if err != nil {
		return apperrors.Mark(apperrors.ErrNodeUnreachable, err)
	}
	if IsInvalidSyntax(out) {
		return apperrors.Mark(apperrors.ErrNodeUnreachable, fmt.Errorf("set %s on %s: %s", AttrAnswer, n.Name, strings.TrimSpace(out)))
	}
	return nil
}

// Supported 检查集群所有节点都有问答属性；任一类型节点返回语法错误即视为不支持
func (a *Attributes) Supported(ctx context.Context, f *Fleet) (bool, error) {
	groups := []struct {
		t     NodeType
		nodes []string
	}{{NodeDB, f.DB}, {NodeCell, f.Cell}}
	for _, g := range groups {
		if len(g.nodes) == 0 {
			continue
		}
		cmd := fmt.Sprintf("cellcli -e list %s attributes %s,%s", g.t.CLIObject(), AttrQuestion, AttrAnswer)
		out, err := a.runner.Run(ctx, g.nodes, cmd)
		if err != nil {
			return false, apperrors.Mark(apperrors.ErrNodeUnreachable, err)
		}
		if IsInvalidSyntax(out) {
			return false, nil
		}
	}
	return true, nil
}

func (a *Attributes) read(ctx context.Context, n Node, attr string) (string, error) {
	cmd := fmt.Sprintf("cellcli -e list %s attributes %s", n.Type.CLIObject(), attr)
	out, err := a.runner.Run(ctx, []string{n.Name}, cmd)
	if err != nil {
		return "", apperrors.Mark(apperrors.ErrNodeUnreachable, err)
	}
	if IsInvalidSyntax(out) {
		return "", apperrors.Mark(apperrors.ErrNodeUnreachable, fmt.Errorf("read %s on %s: %s", attr, n.Name, strings.TrimSpace(out)))
	}
	value, ok := NodeValues(out)[n.Name]
	if !ok {
		return "", nil
	}
	return strings.Trim(value, `"' `), nil
}

var contractions = strings.NewReplacer(
	"can't", "cannot",
	"Can't", "Cannot",
	"won't", "will not",
	"Won't", "Will not",
	"n't", " not",
	"'re", " are",
	"'ve", " have",
	"'ll", " will",
	"'m", " am",
	"'d", " would",
)

// SanitizeAnswer 展开英文缩写并去掉引号，使回答可以作为属性值写入
func SanitizeAnswer(s string) string {
	s = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`).Replace(s)
	s = contractions.Replace(s)
	s = strings.NewReplacer("'", "", `"`, "", "`", "", `\`, "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// escapeShell 防止远端 shell 在双引号内展开变量
func escapeShell(s string) string {
	return strings.ReplaceAll(s, "$", `\$`)
}
