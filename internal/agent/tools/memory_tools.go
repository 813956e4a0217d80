package tools

import (
	"context"
	"fmt"
	"strings"

	"fleet-copilot/internal/agent/memory"
	"fleet-copilot/internal/agent/prompt"
)

const (
	SaveMemoryTool   = "save_memory"
	DeleteMemoryTool = "delete_memory"

	deleteCandidates = 3
)

// MemoryTools 记忆工具：保存、删除用户的语义记忆。
// 只修改 Agent 自身的记忆，不改变节点状态，因此标记为只读；仅在交互对话中暴露
func MemoryTools(lt *memory.LongTerm) []Descriptor {
	return []Descriptor{
		{
			Name:        SaveMemoryTool,
			Description: "Save something the user said to your memory.",
			Params: map[string]*Param{
				"memory": {Type: TypeString, Desc: "The memory to be saved.", Required: true},
			},
			ReadOnly: true,
			ChatOnly: true,
			Handler: func(ctx context.Context, args Args, _ Sampler) (string, error) {
				text := strings.TrimSpace(args.String("memory"))
				if text == "" {
					return "", fmt.Errorf("memory text is empty")
				}
				if _, err := lt.Save(ctx, text, memory.KindSemantic, memory.ProvenanceUser); err != nil {
					return "", err
				}
				return "Successfully saved memory.", nil
			},
		},
		{
			Name:        DeleteMemoryTool,
			Description: "Delete something the user said from your memory.",
			Params: map[string]*Param{
				"memory": {Type: TypeString, Desc: "The memory to be deleted.", Required: true},
			},
			ReadOnly: true,
			ChatOnly: true,
			Handler: func(ctx context.Context, args Args, sampler Sampler) (string, error) {
				return deleteMemory(ctx, lt, args.String("memory"), sampler)
			},
		},
	}
}

// deleteMemory 先按相似度取候选，再由采样模型挑出要删除的 ID
func deleteMemory(ctx context.Context, lt *memory.LongTerm, description string, sampler Sampler) (string, error) {
	recs, err := lt.Retrieve(ctx, description, deleteCandidates, memory.KindSemantic)
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return prompt.NoMemoryFound, nil
	}
	candidates := make([]prompt.Candidate, len(recs))
	for i, r := range recs {
		candidates[i] = prompt.Candidate{ID: r.ID, Text: r.Text}
	}
	out, err := sampler.Sample(ctx, prompt.DeleteMemory(description, candidates))
	if err != nil {
		return "", err
	}
	id := strings.Trim(strings.TrimSpace(out), `"'`)
	if id == prompt.NoMemoryFound {
		return prompt.NoMemoryFound, nil
	}

	// 只允许删除候选中的记录，防止模型编造 ID
	matched := false
	for _, c := range candidates {
		if c.ID == id {
			matched = true
			break
		}
	}
	if !matched {
		return prompt.NoMemoryFound, nil
	}
	if _, err := lt.Delete(ctx, memory.Criterion{ID: id, Kind: memory.KindSemantic}); err != nil {
		return "", err
	}
	return "Successfully deleted memory.", nil
}
