package fleet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"fleet-copilot/internal/agent/tools"
	"fleet-copilot/internal/storage/cache"
)

const (
	// maxLogOutput 日志类工具输出上限，超过时要求缩小时间范围
	maxLogOutput = 50000
	// maxMetricCandidates 交给采样模型挑选的指标定义条数
	maxMetricCandidates = 40
	// DefaultDefinitionTTL 指标定义缓存时间；定义只随软件版本变化
	DefaultDefinitionTTL = 30 * time.Minute
	syslogLayout        = "Jan _2 15:04:05"
	// maxLowPowerMinutes 单个低功耗时段的最长分钟数
	maxLowPowerMinutes = 1440
)

var (
	errNoNodes     = errors.New("at least one node must be specified")
	metricNameExpr = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	alertIDExpr    = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	// alertMsgExpr 匹配 log.xml 中带 dcli 节点前缀的一条 <msg> 记录
	alertMsgExpr  = regexp.MustCompile(`(?s)([^\n]*?:\s*<msg[^>]+>.*?</msg>)`)
	alertTimeExpr = regexp.MustCompile(`time='([0-9T:.\-]+(?:[+\-][0-9]{2}:[0-9]{2}|Z)?)'`)
)

// ToolOptions 节点工具的可选项
type ToolOptions struct {
	Location *time.Location
	Now      func() time.Time
	// Cache 缓存指标定义，为 nil 时每次查询都读取节点
	Cache    cache.Store
	CacheTTL time.Duration
}

type toolkit struct {
	fleet    *Fleet
	runner   Runner
	loc      *time.Location
	now      func() time.Time
	cache    cache.Store
	cacheTTL time.Duration
}

// Tools 返回管理集群节点的工具；只读工具不会修改节点状态
func Tools(f *Fleet, runner Runner, opts ToolOptions) []tools.Descriptor {
	k := &toolkit{fleet: f, runner: runner, loc: opts.Location, now: opts.Now, cache: opts.Cache, cacheTTL: opts.CacheTTL}
	if k.cacheTTL <= 0 {
		k.cacheTTL = DefaultDefinitionTTL
	}
	if k.loc == nil {
		k.loc = time.Local
	}
	if k.now == nil {
		k.now = time.Now
	}

	cellNodes := &tools.Param{Type: tools.TypeString, Desc: "Comma-separated list of one or more cell nodes. Use '' if you do not want to call the tool on cell nodes."}
	dbNodes := &tools.Param{Type: tools.TypeString, Desc: "Comma-separated list of one or more database nodes. Use '' if you do not want to call the tool on database nodes."}
	anyNodes := &tools.Param{Type: tools.TypeString, Desc: "Comma-separated list of one or more nodes.", Required: true}
	dbOnly := &tools.Param{Type: tools.TypeString, Desc: "Comma-separated list of one or more database nodes.", Required: true}
	request := &tools.Param{Type: tools.TypeString, Desc: "Detailed request written in natural language. This request should include a verb.", Required: true}

	return []tools.Descriptor{
		{
			Name:        "get_node_info",
			Description: "Get general information for a set of nodes. This tool can be called on just cell nodes, just database nodes, or both. At least one node must be specified.",
			Params:      map[string]*tools.Param{"cell_nodes": cellNodes, "db_nodes": dbNodes},
			ReadOnly:    true,
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				return k.perType(ctx, args, "cellcli -e list cell detail", "cellcli -e list dbserver detail")
			},
		},
		{
			Name:        "get_cell_disk_info",
			Description: "Get cell disk information for a set of cell nodes. This tool is only applicable to cell nodes and not applicable to database nodes.",
			Params: map[string]*tools.Param{
				"cell_nodes": {Type: tools.TypeString, Desc: "Comma-separated list of one or more cell nodes.", Required: true},
			},
			ReadOnly: true,
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				nodes, err := k.nodes(args.String("cell_nodes"), NodeCell)
				if err != nil {
					return "", err
				}
				return k.run(ctx, nodes, "cellcli -e list celldisk detail")
			},
		},
		{
			Name:        "get_physical_disk_info",
			Description: "Get physical disk information for a set of nodes.",
			Params:      map[string]*tools.Param{"nodes": anyNodes},
			ReadOnly:    true,
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				return k.onNodes(ctx, args, "cellcli -e list physicaldisk detail")
			},
		},
		{
			Name:        "get_alert_history",
			Description: "Get alert history for a set of nodes. Alert history for a given node reveals significant unusual events that occurred on that node.",
			Params:      map[string]*tools.Param{"nodes": anyNodes},
			ReadOnly:    true,
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				return k.onNodes(ctx, args, "cellcli -e list alerthistory detail")
			},
		},
		{
			Name:        "get_current_metric",
			Description: "Get the current value of a specific metric for a set of nodes given the name or description of the metric. At least one node must be specified.",
			Params: map[string]*tools.Param{
				"description": {Type: tools.TypeString, Desc: "Name or detailed description in natural language of metric to get.", Required: true},
				"cell_nodes":  cellNodes,
				"db_nodes":    dbNodes,
			},
			ReadOnly: true,
			Handler:  k.currentMetric,
		},
		{
			Name:        "list_object",
			Description: "List objects and their attributes on a set of nodes, such as grid disks, flash cache, or IORM plans, from a natural-language request. This tool never modifies the nodes. At least one node must be specified.",
			Params: map[string]*tools.Param{
				"natural_language_request": request,
				"cell_nodes":               cellNodes,
				"db_nodes":                 dbNodes,
			},
			ReadOnly: true,
			Handler:  k.listObject,
		},
		{
			Name:        "get_system_messages",
			Description: "Get system messages logged in /var/log/messages on each node in a set of nodes over a given time range. To check system messages around a certain time, set start_datetime to 5 minutes before that time and end_datetime to 5 minutes after that time.",
			Params: map[string]*tools.Param{
				"nodes":          anyNodes,
				"start_datetime": {Type: tools.TypeString, Desc: "Start timestamp formatted as %b %d %H:%M:%S (e.g., 'Jul 16 12:30:58').", Required: true},
				"end_datetime":   {Type: tools.TypeString, Desc: "End timestamp formatted as %b %d %H:%M:%S (e.g., 'Jul 16 13:15:21').", Required: true},
			},
			ReadOnly: true,
			Handler:  k.systemMessages,
		},
		{
			Name:        "get_alert_log",
			Description: "Get alert log messages logged in alert.log and log.xml relating to Exascale services, cell services, or database services on each node in a set of nodes over a given time range. To check alert log messages around a certain time, set start_datetime to 5 minutes before that time and end_datetime to 5 minutes after that time.",
			Params: map[string]*tools.Param{
				"nodes": anyNodes,
				"service_type": {
					Type:     tools.TypeString,
					Desc:     "Type of service: exascale (Exascale services on any node), dbserver (MS and RS on database nodes only), or cell (CELLSRV, MS and RS on cell nodes only). By default, choose dbserver for database nodes and cell for cell nodes.",
					Enum:     []string{"exascale", "dbserver", "cell"},
					Required: true,
				},
				"start_datetime": {Type: tools.TypeString, Desc: "Start timestamp in ISO 8601 format (e.g., '2025-07-16T18:15:07-07:00').", Required: true},
				"end_datetime":   {Type: tools.TypeString, Desc: "End timestamp in ISO 8601 format (e.g., '2025-07-21T17:49:01-07:00').", Required: true},
			},
			ReadOnly: true,
			Handler:  k.alertLog,
		},
		{
			Name:        "get_current_time",
			Description: "Get the current date and time in ISO 8601 format. This tool can help address queries involving a time relative to the current time.",
			ReadOnly:    true,
			Handler: func(context.Context, tools.Args, tools.Sampler) (string, error) {
				return k.now().In(k.loc).Format(time.RFC3339), nil
			},
		},
		{
			Name:        "alter_software_update_frequency",
			Description: "Change software update frequency for a set of nodes.",
			Params: map[string]*tools.Param{
				"nodes": anyNodes,
				"frequency": {
					Type:     tools.TypeString,
					Desc:     "Frequency of software update. If you do not know what the frequency should be, please prompt the user for it.",
					Enum:     []string{"none", "daily", "weekly", "biweekly"},
					Required: true,
				},
			},
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				return k.onNodes(ctx, args, "cellcli -e alter softwareupdate frequency="+args.String("frequency"))
			},
		},
		{
			Name:        "alter_node_services",
			Description: "Shut down, restart, or start up services for a set of nodes. This tool can be called on just cell nodes, just database nodes, or both. At least one node must be specified.",
			Params: map[string]*tools.Param{
				"action": {
					Type:     tools.TypeString,
					Desc:     "Action to perform on the service: shutdown, restart, or startup.",
					Enum:     []string{"shutdown", "restart", "startup"},
					Required: true,
				},
				"service": {
					Type:     tools.TypeString,
					Desc:     "Service to act on: ms (Management Server), rs (Restart Server), cellsrv (cell nodes only), or all.",
					Enum:     []string{"ms", "rs", "cellsrv", "all"},
					Required: true,
				},
				"cell_nodes": cellNodes,
				"db_nodes":   dbNodes,
			},
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				action, service := args.String("action"), args.String("service")
				if service == "cellsrv" && strings.TrimSpace(args.String("db_nodes")) != "" {
					return "", fmt.Errorf("the cellsrv service only exists on cell nodes")
				}
				return k.perType(ctx, args,
					fmt.Sprintf("cellcli -e alter cell %s services %s", action, service),
					fmt.Sprintf("cellcli -e alter dbserver %s services %s", action, service))
			},
		},
		{
			Name:        "examine_alert_history",
			Description: "Mark an alert on a given node as examined by an examiner. This tool cannot be used to drop the alert.",
			Params: map[string]*tools.Param{
				"node":     {Type: tools.TypeString, Desc: "Single node.", Required: true},
				"id":       {Type: tools.TypeString, Desc: "Alert ID.", Required: true},
				"examiner": {Type: tools.TypeString, Desc: "Name of examiner.", Required: true},
			},
			Handler: k.examineAlert,
		},
		{
			Name:        "alter_low_power_mode_schedule",
			Description: "Alter the low power mode schedule on a set of database nodes by adding a low power mode period, removing one, or overwriting the entire schedule with one. This tool is only applicable to database nodes.",
			Params: map[string]*tools.Param{
				"db_nodes":       dbOnly,
				"start_datetime": {Type: tools.TypeString, Desc: "Start timestamp of the low power mode period in ISO 8601 format (e.g., '2025-07-16T18:15:07-07:00'). If you do not know it, prompt the user for it.", Required: true},
				"duration":       {Type: tools.TypeInteger, Desc: "Duration of the low power mode period in minutes, between 0 and 1440. If you do not know it, prompt the user for it.", Required: true},
				"frequency": {
					Type:     tools.TypeString,
					Desc:     "Frequency of the low power mode period. If you do not know it, prompt the user for it.",
					Enum:     []string{"daily", "weekly"},
					Required: true,
				},
				"action": {
					Type:     tools.TypeString,
					Desc:     "add: add the period to the schedule; remove: remove the period from the schedule; overwrite: replace the entire schedule with the period.",
					Enum:     []string{"add", "remove", "overwrite"},
					Required: true,
				},
			},
			Handler: k.alterLowPowerSchedule,
		},
		{
			Name:        "clear_low_power_mode_schedule",
			Description: "Clear the low power mode schedule on a set of database nodes. This tool is only applicable to database nodes.",
			Params:      map[string]*tools.Param{"db_nodes": dbOnly},
			Handler: func(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
				nodes, err := k.nodes(args.String("db_nodes"), NodeDB)
				if err != nil {
					return "", err
				}
				return k.run(ctx, nodes, quoteCLI("dbmcli", "alter dbserver lowPowerModeSchedule=null"))
			},
		},
		{
			Name:        "alter_low_power_mode",
			Description: "Turn low power mode on or off and enable or disable the low power mode schedule on a set of database nodes. This tool is only applicable to database nodes.",
			Params: map[string]*tools.Param{
				"db_nodes": dbOnly,
				"status": {
					Type:     tools.TypeString,
					Desc:     "on: turn on low power mode and keep the schedule enabled; off: turn off low power mode for the current period and keep the schedule enabled; disable: turn off low power mode for the current period and disable the schedule.",
					Enum:     []string{"on", "off", "disable"},
					Required: true,
				},
				"until": {Type: tools.TypeString, Desc: "Future end timestamp of the low power mode period in ISO 8601 format. Only required when status is on; if you do not know it, prompt the user for it."},
			},
			Handler: k.alterLowPower,
		},
		{
			Name:        "execute_cellcli_cmd",
			Description: "Execute a command using CellCLI, a command-line interface used to alter or access cell nodes. This tool can create, describe, drop, and list objects and their attributes as well as perform other administrative tasks. This tool is only applicable to cell nodes.",
			Params: map[string]*tools.Param{
				"natural_language_request": request,
				"cell_nodes":               {Type: tools.TypeString, Desc: "Comma-separated list of one or more cell nodes.", Required: true},
			},
			Handler: func(ctx context.Context, args tools.Args, s tools.Sampler) (string, error) {
				return k.executeCLI(ctx, args.String("natural_language_request"), args.String("cell_nodes"), NodeCell, s)
			},
		},
		{
			Name:        "execute_dbmcli_cmd",
			Description: "Execute a command using dbmcli, a command-line interface used to alter or access database nodes. This tool can create, describe, drop, and list objects and their attributes as well as perform other administrative tasks. This tool is only applicable to database nodes.",
			Params: map[string]*tools.Param{
				"natural_language_request": request,
				"db_nodes":                 {Type: tools.TypeString, Desc: "Comma-separated list of one or more database nodes.", Required: true},
			},
			Handler: func(ctx context.Context, args tools.Args, s tools.Sampler) (string, error) {
				return k.executeCLI(ctx, args.String("natural_language_request"), args.String("db_nodes"), NodeDB, s)
			},
		},
	}
}

// run 执行命令；空输出转换为固定提示
func (k *toolkit) run(ctx context.Context, nodes []string, cmd string) (string, error) {
	out, err := k.runner.Run(ctx, nodes, cmd)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return EmptyOutput, nil
	}
	return out, nil
}

func (k *toolkit) nodes(list string, want NodeType) ([]string, error) {
	nodes, err := k.fleet.Resolve(list, want)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errNoNodes
	}
	return nodes, nil
}

func (k *toolkit) onNodes(ctx context.Context, args tools.Args, cmd string) (string, error) {
	nodes, err := k.nodes(args.String("nodes"), "")
	if err != nil {
		return "", err
	}
	return k.run(ctx, nodes, cmd)
}

// split 解析 cell_nodes / db_nodes 两个参数，至少一个非空
func (k *toolkit) split(args tools.Args) (cell, db []string, err error) {
	if cell, err = k.fleet.Resolve(args.String("cell_nodes"), NodeCell); err != nil {
		return nil, nil, err
	}
	if db, err = k.fleet.Resolve(args.String("db_nodes"), NodeDB); err != nil {
		return nil, nil, err
	}
	if len(cell) == 0 && len(db) == 0 {
		return nil, nil, errNoNodes
	}
	return cell, db, nil
}

// perType 分别在存储节点与数据库节点上执行对应命令，输出按存储节点在前拼接
func (k *toolkit) perType(ctx context.Context, args tools.Args, cellCmd, dbCmd string) (string, error) {
	cell, db, err := k.split(args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if len(cell) > 0 {
		out, err := k.run(ctx, cell, cellCmd)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	if len(db) > 0 {
		out, err := k.run(ctx, db, dbCmd)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func cliFor(t NodeType) (binary, name string) {
	if t == NodeDB {
		return "dbmcli", "dbmcli"
	}
	return "cellcli", "CellCLI"
}

// quoteCLI 将命令放进双引号传给 -e，远端 shell 不再解释其中的特殊字符
func quoteCLI(binary, command string) string {
	command = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(command)
	return fmt.Sprintf(`%s -e "%s"`, binary, command)
}

// sampledCommand 清理采样模型给出的命令：去掉代码块与 CLI 前缀，只接受单行
func sampledCommand(out, binary string) (string, error) {
	cmd := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), "`"))
	lower := strings.ToLower(cmd)
	for _, prefix := range []string{binary + " -e ", binary + " "} {
		if strings.HasPrefix(lower, prefix) {
			cmd = strings.TrimSpace(cmd[len(prefix):])
			break
		}
	}
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return "", fmt.Errorf("generated command is not a single line: %q", out)
	}
	return cmd, nil
}

func (k *toolkit) currentMetric(ctx context.Context, args tools.Args, s tools.Sampler) (string, error) {
	cell, db, err := k.split(args)
	if err != nil {
		return "", err
	}
	description := args.String("description")
	var b strings.Builder
	for _, g := range []struct {
		t     NodeType
		nodes []string
	}{{NodeCell, cell}, {NodeDB, db}} {
		if len(g.nodes) == 0 {
			continue
		}
		out, err := k.metricFor(ctx, g.t, g.nodes, description, s)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// metricFor 从节点读取指标定义，由采样模型挑出最匹配的指标后查询当前值
func (k *toolkit) metricFor(ctx context.Context, t NodeType, nodes []string, description string, s tools.Sampler) (string, error) {
	binary, _ := cliFor(t)
	defs, err := k.definitions(ctx, binary, nodes[0])
	if err != nil {
		return "", err
	}
	candidates := metricCandidates(defs, description, maxMetricCandidates)
	if len(candidates) == 0 {
		return fmt.Sprintf("Error: No %s node metric definitions are available.\n", t.Label()), nil
	}
	name, err := s.Sample(ctx, metricPrompt(t.Label(), description, candidates))
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "Error:") {
		return name + "\n", nil
	}
	if !metricNameExpr.MatchString(name) {
		return "", fmt.Errorf("sampled metric name %q is not valid", name)
	}
	return k.run(ctx, nodes, fmt.Sprintf("%s -e list metriccurrent %s detail", binary, name))
}

// definitions 读取指标定义，同类节点共享缓存
func (k *toolkit) definitions(ctx context.Context, binary, node string) (string, error) {
	key := "metricdefinition:" + binary
	var defs string
	if k.cache != nil && k.cache.Get(ctx, key, &defs) == nil {
		return defs, nil
	}
	defs, err := k.runner.Run(ctx, []string{node}, binary+" -e list metricdefinition attributes name,description")
	if err != nil {
		return "", err
	}
	if k.cache != nil && strings.TrimSpace(defs) != "" && !IsInvalidSyntax(defs) {
		_ = k.cache.Set(ctx, key, defs, k.cacheTTL)
	}
	return defs, nil
}

// metricCandidates 取出指标定义行，超过 limit 时按与描述的词重合度保留
func metricCandidates(defs, description string, limit int) []string {
	var lines []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(defs, "\n") {
		if _, rest, ok := strings.Cut(line, ":"); ok {
			line = rest
		}
		line = strings.Join(strings.Fields(line), " ")
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		lines = append(lines, line)
	}
	if len(lines) <= limit {
		return lines
	}

	words := strings.Fields(strings.ToLower(description))
	score := func(line string) int {
		l := strings.ToLower(line)
		n := 0
		for _, w := range words {
			if len(w) > 2 && strings.Contains(l, w) {
				n++
			}
		}
		return n
	}
	sort.SliceStable(lines, func(i, j int) bool { return score(lines[i]) > score(lines[j]) })
	return lines[:limit]
}

func (k *toolkit) listObject(ctx context.Context, args tools.Args, s tools.Sampler) (string, error) {
	cell, db, err := k.split(args)
	if err != nil {
		return "", err
	}
	req := args.String("natural_language_request")
	var b strings.Builder
	for _, g := range []struct {
		t     NodeType
		nodes []string
	}{{NodeCell, cell}, {NodeDB, db}} {
		if len(g.nodes) == 0 {
			continue
		}
		binary, name := cliFor(g.t)
		out, err := s.Sample(ctx, listPrompt(name, g.t.Label(), req))
		if err != nil {
			return "", err
		}
		if strings.HasPrefix(strings.TrimSpace(out), "Error:") {
			b.WriteString(strings.TrimSpace(out) + "\n")
			continue
		}
		cmd, err := sampledCommand(out, binary)
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(strings.ToLower(cmd), "list ") {
			return "", fmt.Errorf("generated %s command %q is not a LIST command", name, cmd)
		}
		res, err := k.run(ctx, g.nodes, quoteCLI(binary, cmd))
		if err != nil {
			return "", err
		}
		if IsInvalidSyntax(res) {
			return "", fmt.Errorf("invalid syntax in generated %s command: %s", name, cmd)
		}
		fmt.Fprintf(&b, "Executed %s command: %s.\n\n%s", name, cmd, res)
	}
	return b.String(), nil
}

// executeCLI 由采样模型把自然语言请求翻译成 CellCLI/dbmcli 命令并执行
func (k *toolkit) executeCLI(ctx context.Context, req, list string, t NodeType, s tools.Sampler) (string, error) {
	nodes, err := k.nodes(list, t)
	if err != nil {
		return "", err
	}
	binary, name := cliFor(t)
	out, err := s.Sample(ctx, commandPrompt(name, t.Label(), req))
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(strings.TrimSpace(out), "Error:") {
		return strings.TrimSpace(out), nil
	}
	cmd, err := sampledCommand(out, binary)
	if err != nil {
		return "", err
	}
	res, err := k.run(ctx, nodes, quoteCLI(binary, cmd))
	if err != nil {
		return "", err
	}
	if IsInvalidSyntax(res) {
		return "", fmt.Errorf("invalid syntax in generated %s command: %s. Please revise your query", name, cmd)
	}
	return fmt.Sprintf("Successfully executed %s command: %s.\n\n%s", name, cmd, res), nil
}

func (k *toolkit) examineAlert(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
	node, ok := k.fleet.Lookup(strings.TrimSpace(args.String("node")))
	if !ok {
		return "", fmt.Errorf("node %q is not part of the fleet", args.String("node"))
	}
	id := strings.TrimSpace(args.String("id"))
	if !alertIDExpr.MatchString(id) {
		return "", fmt.Errorf("invalid alert id %q", id)
	}
	examiner := SanitizeAnswer(args.String("examiner"))
	if examiner == "" {
		return "", fmt.Errorf("examiner is empty")
	}
	cmd := fmt.Sprintf(`cellcli -e "alter alerthistory %s examinedBy=\"%s\""`, id, escapeShell(examiner))
	return k.run(ctx, []string{node.Name}, cmd)
}

// systemMessages 读取 /var/log/messages 并按时间范围过滤
func (k *toolkit) systemMessages(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
	nodes, err := k.nodes(args.String("nodes"), "")
	if err != nil {
		return "", err
	}
	year := k.now().In(k.loc).Year()
	start, err := parseSyslogTime(args.String("start_datetime"), year, k.loc)
	if err != nil {
		return "", fmt.Errorf("invalid datetime format: %w", err)
	}
	end, err := parseSyslogTime(args.String("end_datetime"), year, k.loc)
	if err != nil {
		return "", fmt.Errorf("invalid datetime format: %w", err)
	}
	if start.After(end) {
		return "", fmt.Errorf("invalid datetime range: start is after end")
	}

	out, err := k.runner.Run(ctx, nodes, "cat /var/log/messages")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, line := range strings.Split(out, "\n") {
		_, rest, ok := strings.Cut(line, ": ")
		if !ok || len(rest) < len(syslogLayout) {
			continue
		}
		ts, err := parseSyslogTime(rest[:len(syslogLayout)], year, k.loc)
		if err != nil {
			continue
		}
		if !ts.Before(start) && !ts.After(end) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if b.Len() > maxLogOutput {
		return "", fmt.Errorf("the time range is too large. Please specify a shorter time range")
	}
	if b.Len() == 0 {
		return "There are no messages from this time range.", nil
	}
	return b.String(), nil
}

func parseSyslogTime(s string, year int, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(syslogLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}

// alertLog 读取服务的 log.xml，按 <msg> 的 time 属性过滤时间范围
func (k *toolkit) alertLog(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
	nodes, err := k.nodes(args.String("nodes"), "")
	if err != nil {
		return "", err
	}
	start, err := parseISOTime(args.String("start_datetime"), k.loc)
	if err != nil {
		return "", fmt.Errorf("invalid datetime format: %w", err)
	}
	end, err := parseISOTime(args.String("end_datetime"), k.loc)
	if err != nil {
		return "", fmt.Errorf("invalid datetime format: %w", err)
	}
	if start.After(end) {
		return "", fmt.Errorf("invalid datetime range: start is after end")
	}

	path := "/var/log/oracle/diag/asm/" + args.String("service_type") + "/`hostname -s`/alert/log.xml"
	if args.String("service_type") == "exascale" {
		path = "/var/log/oracle/diag/EXC/exc/`hostname -s`/alert/log.xml"
	}
	out, err := k.runner.Run(ctx, nodes, "cat "+path)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range alertMsgExpr.FindAllString(out, -1) {
		m := alertTimeExpr.FindStringSubmatch(block)
		if m == nil {
			continue
		}
		ts, err := parseISOTime(m[1], k.loc)
		if err != nil || ts.Before(start) || ts.After(end) {
			continue
		}
		b.WriteString(strings.TrimLeft(block, "\n"))
		b.WriteString("\n")
	}
	if b.Len() > maxLogOutput {
		return "", fmt.Errorf("the time range is too large. Please specify a shorter time range")
	}
	if b.Len() == 0 {
		return "There are no messages from this time range.", nil
	}
	return b.String(), nil
}

func (k *toolkit) alterLowPowerSchedule(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
	nodes, err := k.nodes(args.String("db_nodes"), NodeDB)
	if err != nil {
		return "", err
	}
	start := strings.TrimSpace(args.String("start_datetime"))
	if _, err := parseISOTime(start, k.loc); err != nil {
		return "", fmt.Errorf("invalid timestamp for start of low power mode period: %w", err)
	}
	minutes, err := args.Int("duration")
	if err != nil {
		return "", err
	}
	if minutes < 0 || minutes > maxLowPowerMinutes {
		return "", fmt.Errorf("duration must be between 0 and %d minutes", maxLowPowerMinutes)
	}
	op := ""
	switch args.String("action") {
	case "add":
		op = "+"
	case "remove":
		op = "-"
	}
	cmd := fmt.Sprintf(`alter dbserver lowPowerModeSchedule%s=((startTimestamp="%s",durationMinutes=%d,frequency=%s))`,
		op, start, minutes, args.String("frequency"))
	return k.run(ctx, nodes, quoteCLI("dbmcli", cmd))
}

func (k *toolkit) alterLowPower(ctx context.Context, args tools.Args, _ tools.Sampler) (string, error) {
	nodes, err := k.nodes(args.String("db_nodes"), NodeDB)
	if err != nil {
		return "", err
	}
	var value string
	switch args.String("status") {
	case "on":
		until := strings.TrimSpace(args.String("until"))
		if until == "" {
			return "", fmt.Errorf("missing timestamp for end of low power mode period")
		}
		if _, err := parseISOTime(until, k.loc); err != nil {
			return "", fmt.Errorf("invalid timestamp for end of low power mode period: %w", err)
		}
		value = `"` + until + `"`
	case "disable":
		value = "never"
	default:
		value = `""`
	}
	return k.run(ctx, nodes, quoteCLI("dbmcli", "alter dbserver lowPowerModeUntil="+value))
}

// parseISOTime 解析 ISO 8601 时间；不带时区时按 loc 解释
func parseISOTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, loc)
}
