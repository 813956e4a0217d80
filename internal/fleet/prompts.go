package fleet

import (
	"fmt"
	"strings"
)

// 采样提示词。模型无法完成时要求以 "Error:" 开头作答，工具原样返回给编排循环

func metricPrompt(label, description string, candidates []string) string {
	var b strings.Builder
	b.WriteString("You will receive a description, along with several candidate metrics.\n")
	fmt.Fprintf(&b, "If none of the metrics fit the description, output \"Error: No %s node metric fits the description.\"\n", label)
	b.WriteString("Otherwise, output only the name of the best metric.\n\n")
	fmt.Fprintf(&b, "Description: %s\n\nMetrics:\n%s", description, strings.Join(candidates, "\n"))
	return b.String()
}

func commandPrompt(cli, label, request string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You will receive a user's natural-language request that should be carried out with %s on %s nodes.\n", cli, label)
	fmt.Fprintf(&b, "If the user's request includes all information needed to construct the correct %s command, output only a single-line %s command without the %s prefix, and nothing else.\n", cli, cli, strings.ToLower(cli))
	b.WriteString("If the user's request does not provide enough information, output a statement of what additional information is needed, formatted as \"Error: Not enough information. Please revise your query by....\"\n\n")
	fmt.Fprintf(&b, "User's natural-language request: %s", request)
	return b.String()
}

func listPrompt(cli, label, request string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You will receive a user's natural-language request to look up objects on %s nodes with %s.\n", label, cli)
	fmt.Fprintf(&b, "Output only a single-line %s LIST command (for example: list griddisk attributes name,size where status=active), and nothing else.\n", cli)
	b.WriteString("The command must start with LIST and must not modify anything.\n")
	b.WriteString("If the request cannot be answered with a LIST command, output only the sentence: \"Error: The request cannot be answered with a list command.\"\n\n")
	fmt.Fprintf(&b, "User's natural-language request: %s", request)
	return b.String()
}
