package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-copilot/internal/agent/memory"
	"fleet-copilot/internal/agent/prompt"
	"fleet-copilot/internal/model/embedding"
)

func newLongTerm(t *testing.T) *memory.LongTerm {
	t.Helper()
	b, err := memory.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	lt := memory.NewLongTerm(b, embedding.NewHashEmbedder(64), "alice", nil)
	require.NoError(t, lt.Load(context.Background()))
	return lt
}

func memoryTool(t *testing.T, lt *memory.LongTerm, name string) Descriptor {
	t.Helper()
	for _, d := range MemoryTools(lt) {
		if d.Name == name {
			assert.True(t, d.ReadOnly)
			assert.True(t, d.ChatOnly)
			return d
		}
	}
	t.Fatalf("tool %s not found", name)
	return Descriptor{}
}

func TestSaveMemory(t *testing.T) {
	ctx := context.Background()
	lt := newLongTerm(t)
	save := memoryTool(t, lt, SaveMemoryTool)

	out, err := save.Handler(ctx, Args{"memory": "cel02 is decommissioned"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Successfully saved memory.", out)
	assert.Equal(t, 1, lt.Len(memory.KindSemantic))

	_, err = save.Handler(ctx, Args{"memory": "  "}, nil)
	assert.Error(t, err)
}

func TestDeleteMemory_SamplerPicksCandidate(t *testing.T) {
	ctx := context.Background()
	lt := newLongTerm(t)
	rec, err := lt.Save(ctx, "cel02 is decommissioned", memory.KindSemantic, memory.ProvenanceUser)
	require.NoError(t, err)
	_, err = lt.Save(ctx, "user prefers tables", memory.KindSemantic, memory.ProvenanceUser)
	require.NoError(t, err)

	var gotPrompt string
	sampler := SamplerFunc(func(_ context.Context, p string) (string, error) {
		gotPrompt = p
		return " " + rec.ID + "\n", nil
	})
	del := memoryTool(t, lt, DeleteMemoryTool)
	out, err := del.Handler(ctx, Args{"memory": "the decommissioned cell"}, sampler)
	require.NoError(t, err)
	assert.Equal(t, "Successfully deleted memory.", out)
	assert.True(t, strings.Contains(gotPrompt, "ID: "+rec.ID))
	_, ok := lt.Get(rec.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, lt.Len(memory.KindSemantic))
}

func TestDeleteMemory_NoMatch(t *testing.T) {
	ctx := context.Background()
	lt := newLongTerm(t)
	del := memoryTool(t, lt, DeleteMemoryTool)

	// 空存储不调用采样
	out, err := del.Handler(ctx, Args{"memory": "anything"}, SamplerFunc(func(context.Context, string) (string, error) {
		t.Fatal("sampler should not be called")
		return "", nil
	}))
	require.NoError(t, err)
	assert.Equal(t, prompt.NoMemoryFound, out)

	_, err = lt.Save(ctx, "user prefers tables", memory.KindSemantic, memory.ProvenanceUser)
	require.NoError(t, err)
	for _, reply := range []string{prompt.NoMemoryFound, "made-up-id"} {
		out, err = del.Handler(ctx, Args{"memory": "favourite colour"}, SamplerFunc(func(context.Context, string) (string, error) {
			return reply, nil
		}))
		require.NoError(t, err)
		assert.Equal(t, prompt.NoMemoryFound, out)
	}
	assert.Equal(t, 1, lt.Len(memory.KindSemantic))
}
