package fleet

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-copilot/internal/agent/tools"
	"fleet-copilot/internal/storage/cache"
)

var fixedNow = time.Date(2026, time.July, 16, 12, 40, 0, 0, time.UTC)

func fleetTool(t *testing.T, r Runner, name string) tools.Descriptor {
	t.Helper()
	for _, d := range Tools(testFleet(), r, ToolOptions{Location: time.UTC, Now: func() time.Time { return fixedNow }}) {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("tool %s not found", name)
	return tools.Descriptor{}
}

func noSampling(t *testing.T) tools.Sampler {
	return tools.SamplerFunc(func(context.Context, string) (string, error) {
		t.Fatal("unexpected sampling")
		return "", nil
	})
}

func replies(outs ...string) (tools.Sampler, *[]string) {
	var prompts []string
	i := 0
	return tools.SamplerFunc(func(_ context.Context, p string) (string, error) {
		prompts = append(prompts, p)
		out := outs[i]
		i++
		return out, nil
	}), &prompts
}

func TestToolsRegisterAndReadOnlyFlags(t *testing.T) {
	reg := tools.NewRegistry()
	descs := Tools(testFleet(), newFakeRunner(), ToolOptions{})
	reg.MustRegister(descs...)

	mutating := map[string]bool{
		"alter_software_update_frequency": true,
		"alter_node_services":             true,
		"examine_alert_history":           true,
		"alter_low_power_mode_schedule":   true,
		"clear_low_power_mode_schedule":   true,
		"alter_low_power_mode":            true,
		"execute_cellcli_cmd":             true,
		"execute_dbmcli_cmd":              true,
	}
	for _, d := range descs {
		assert.Equal(t, !mutating[d.Name], d.ReadOnly, d.Name)
		assert.False(t, d.ChatOnly, d.Name)
	}
	assert.Equal(t, len(descs), reg.Len())
}

func TestGetNodeInfoBothTypes(t *testing.T) {
	r := newFakeRunner().
		on("cellcli -e list cell detail", "cel01: name: cel01\n").
		on("cellcli -e list dbserver detail", "db01: name: db01\n")
	d := fleetTool(t, r, "get_node_info")

	out, err := d.Handler(context.Background(), tools.Args{"cell_nodes": "cel01", "db_nodes": "db01"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "cel01: name: cel01\ndb01: name: db01\n", out)
	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"cel01"}, r.calls[0].Nodes)
	assert.Equal(t, []string{"db01"}, r.calls[1].Nodes)
}

func TestGetNodeInfoRequiresNodes(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "get_node_info")

	_, err := d.Handler(context.Background(), tools.Args{"cell_nodes": "", "db_nodes": " "}, noSampling(t))
	assert.ErrorContains(t, err, "at least one node must be specified")

	_, err = d.Handler(context.Background(), tools.Args{"cell_nodes": "db01"}, noSampling(t))
	assert.ErrorContains(t, err, "not a cell node")
	assert.Empty(t, r.calls)
}

func TestEmptyOutput(t *testing.T) {
	d := fleetTool(t, newFakeRunner(), "get_alert_history")
	out, err := d.Handler(context.Background(), tools.Args{"nodes": "cel01,db02"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, EmptyOutput, out)
}

func TestGetCellDiskInfoRejectsDBNodes(t *testing.T) {
	d := fleetTool(t, newFakeRunner(), "get_cell_disk_info")
	_, err := d.Handler(context.Background(), tools.Args{"cell_nodes": "db01"}, noSampling(t))
	assert.Error(t, err)
}

func TestGetCurrentMetric(t *testing.T) {
	r := newFakeRunner().
		on("cellcli -e list metricdefinition", "cel01: CL_CPUT   Cell CPU utilization\ncel01: CL_MEMUT  Cell memory utilization\n").
		on("cellcli -e list metriccurrent", "cel01: CL_CPUT 3.2 %\ncel02: CL_CPUT 1.1 %\n")
	d := fleetTool(t, r, "get_current_metric")
	s, prompts := replies(" CL_CPUT \n")

	out, err := d.Handler(context.Background(), tools.Args{"description": "cpu usage", "cell_nodes": "cel01,cel02"}, s)
	require.NoError(t, err)
	assert.Contains(t, out, "CL_CPUT 3.2 %")

	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "CL_CPUT Cell CPU utilization")
	assert.Contains(t, (*prompts)[0], "Description: cpu usage")
	assert.Equal(t, []string{"cel01"}, r.calls[0].Nodes)
	assert.Equal(t, "cellcli -e list metriccurrent CL_CPUT detail", r.commands()[1])
}

func TestGetCurrentMetricRejectsInjectedName(t *testing.T) {
	r := newFakeRunner().on("dbmcli -e list metricdefinition", "db01: DS_CPUT CPU utilization\n")
	d := fleetTool(t, r, "get_current_metric")
	s, _ := replies("DS_CPUT; reboot")

	_, err := d.Handler(context.Background(), tools.Args{"description": "cpu", "db_nodes": "db01"}, s)
	assert.ErrorContains(t, err, "not valid")
	assert.Len(t, r.calls, 1)
}

func TestGetCurrentMetricNoFit(t *testing.T) {
	r := newFakeRunner().on("cellcli -e list metricdefinition", "cel01: CL_CPUT CPU utilization\n")
	d := fleetTool(t, r, "get_current_metric")
	s, _ := replies("Error: No cell node metric fits the description.")

	out, err := d.Handler(context.Background(), tools.Args{"description": "fan speed", "cell_nodes": "cel01"}, s)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: No cell node metric"))
	assert.Len(t, r.calls, 1)
}

func TestGetCurrentMetricCachesDefinitions(t *testing.T) {
	r := newFakeRunner().
		on("cellcli -e list metricdefinition", "cel01: CL_CPUT Cell CPU utilization\n").
		on("cellcli -e list metriccurrent", "cel01: CL_CPUT 3.2 %\n")
	var d tools.Descriptor
	for _, desc := range Tools(testFleet(), r, ToolOptions{Cache: cache.NewMemoryStore()}) {
		if desc.Name == "get_current_metric" {
			d = desc
		}
	}
	s, _ := replies("CL_CPUT", "CL_CPUT")
	args := tools.Args{"description": "cpu", "cell_nodes": "cel01"}

	_, err := d.Handler(context.Background(), args, s)
	require.NoError(t, err)
	_, err = d.Handler(context.Background(), args, s)
	require.NoError(t, err)

	defs := 0
	for _, c := range r.commands() {
		if strings.Contains(c, "metricdefinition") {
			defs++
		}
	}
	assert.Equal(t, 1, defs)
	assert.Len(t, r.commands(), 3)
}

func TestMetricCandidatesPrefersOverlap(t *testing.T) {
	defs := "cel01: A_ONE disk throughput\ncel01: B_TWO flash cache hits\ncel01: C_THREE cpu utilization\n"
	got := metricCandidates(defs, "flash cache hit ratio", 1)
	assert.Equal(t, []string{"B_TWO flash cache hits"}, got)
	assert.Len(t, metricCandidates(defs, "x", 10), 3)
}

func TestExecuteCellCLI(t *testing.T) {
	r := newFakeRunner().on(`cellcli -e "alter cell led on"`, "cel01: Cell cel01 successfully altered\n")
	d := fleetTool(t, r, "execute_cellcli_cmd")
	s, prompts := replies("```cellcli -e alter cell led on```")

	out, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "turn on the led", "cell_nodes": "cel01"}, s)
	require.NoError(t, err)
	assert.Equal(t, "Successfully executed CellCLI command: alter cell led on.\n\ncel01: Cell cel01 successfully altered\n", out)
	assert.Contains(t, (*prompts)[0], "turn on the led")
	assert.Equal(t, `cellcli -e "alter cell led on"`, r.commands()[0])
}

func TestExecuteCLIQuotesCommand(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "execute_dbmcli_cmd")
	s, _ := replies(`alter dbserver comment="$HOME"`)

	_, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "set comment", "db_nodes": "db02"}, s)
	require.NoError(t, err)
	assert.Equal(t, `dbmcli -e "alter dbserver comment=\"\$HOME\""`, r.commands()[0])
}

func TestExecuteCLIInvalidSyntax(t *testing.T) {
	r := newFakeRunner().on("cellcli", "cel01: CELL-"+InvalidSyntax)
	d := fleetTool(t, r, "execute_cellcli_cmd")
	s, _ := replies("alter cell bogus")

	_, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "do it", "cell_nodes": "cel01"}, s)
	assert.ErrorContains(t, err, "invalid syntax in generated CellCLI command: alter cell bogus")
}

func TestExecuteCLINotEnoughInformation(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "execute_cellcli_cmd")
	s, _ := replies("Error: Not enough information. Please revise your query by naming the grid disk.")

	out, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "drop the disk", "cell_nodes": "cel01"}, s)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: Not enough information."))
	assert.Empty(t, r.calls)
}

func TestExecuteCLIRejectsMultiLine(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "execute_cellcli_cmd")
	s, _ := replies("alter cell led on\ndrop celldisk all")

	_, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "x", "cell_nodes": "cel01"}, s)
	assert.Error(t, err)
	assert.Empty(t, r.calls)
}

func TestListObject(t *testing.T) {
	r := newFakeRunner().on(`cellcli -e "list griddisk`, "cel01: DATA_CD_00 active\n")
	d := fleetTool(t, r, "list_object")
	s, _ := replies("list griddisk attributes name,status")

	out, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "show grid disks", "cell_nodes": "cel01"}, s)
	require.NoError(t, err)
	assert.Contains(t, out, "Executed CellCLI command: list griddisk attributes name,status.")
	assert.Contains(t, out, "DATA_CD_00 active")
}

func TestListObjectRejectsNonList(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "list_object")
	s, _ := replies("drop griddisk all")

	_, err := d.Handler(context.Background(), tools.Args{"natural_language_request": "remove disks", "cell_nodes": "cel01"}, s)
	assert.ErrorContains(t, err, "not a LIST command")
	assert.Empty(t, r.calls)
}

func TestAlterSoftwareUpdateFrequency(t *testing.T) {
	r := newFakeRunner().on("cellcli -e alter softwareupdate", "cel01: ok\n")
	d := fleetTool(t, r, "alter_software_update_frequency")

	args := tools.Args{"nodes": "cel01,db01", "frequency": "weekly"}
	require.NoError(t, d.Validate(args))
	out, err := d.Handler(context.Background(), args, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "cel01: ok\n", out)
	assert.Equal(t, "cellcli -e alter softwareupdate frequency=weekly", r.commands()[0])

	assert.Error(t, d.Validate(tools.Args{"nodes": "cel01", "frequency": "hourly"}))
}

func TestAlterNodeServices(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "alter_node_services")

	_, err := d.Handler(context.Background(), tools.Args{"action": "restart", "service": "ms", "cell_nodes": "cel02", "db_nodes": "db01"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cellcli -e alter cell restart services ms",
		"cellcli -e alter dbserver restart services ms",
	}, r.commands())

	_, err = d.Handler(context.Background(), tools.Args{"action": "restart", "service": "cellsrv", "db_nodes": "db01"}, noSampling(t))
	assert.ErrorContains(t, err, "cellsrv")
}

func TestExamineAlertHistory(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "examine_alert_history")

	_, err := d.Handler(context.Background(), tools.Args{"node": "cel01", "id": "1_1", "examiner": "Jane Doe"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, `cellcli -e "alter alerthistory 1_1 examinedBy=\"Jane Doe\""`, r.commands()[0])

	_, err = d.Handler(context.Background(), tools.Args{"node": "cel01", "id": "1; reboot", "examiner": "x"}, noSampling(t))
	assert.ErrorContains(t, err, "invalid alert id")
	_, err = d.Handler(context.Background(), tools.Args{"node": "nope", "id": "1", "examiner": "x"}, noSampling(t))
	assert.ErrorContains(t, err, "not part of the fleet")
}

func TestGetSystemMessages(t *testing.T) {
	logs := strings.Join([]string{
		"cel01: Jul 16 12:20:00 cel01 kernel: too early",
		"cel01: Jul 16 12:30:58 cel01 kernel: disk warning",
		"cel01: Jul 16 12:35:00 cel01 systemd: restarted",
		"cel01: Jul 16 13:00:00 cel01 kernel: too late",
		"garbage",
	}, "\n")
	r := newFakeRunner().on("cat /var/log/messages", logs)
	d := fleetTool(t, r, "get_system_messages")

	out, err := d.Handler(context.Background(), tools.Args{"nodes": "cel01", "start_datetime": "Jul 16 12:25:58", "end_datetime": "Jul 16 12:35:58"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "cel01: Jul 16 12:30:58 cel01 kernel: disk warning\ncel01: Jul 16 12:35:00 cel01 systemd: restarted\n", out)

	out, err = d.Handler(context.Background(), tools.Args{"nodes": "cel01", "start_datetime": "Aug 01 00:00:00", "end_datetime": "Aug 02 00:00:00"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "There are no messages from this time range.", out)

	_, err = d.Handler(context.Background(), tools.Args{"nodes": "cel01", "start_datetime": "2026-07-16", "end_datetime": "Jul 16 12:35:58"}, noSampling(t))
	assert.ErrorContains(t, err, "invalid datetime format")

	_, err = d.Handler(context.Background(), tools.Args{"nodes": "cel01", "start_datetime": "Jul 16 13:00:00", "end_datetime": "Jul 16 12:00:00"}, noSampling(t))
	assert.ErrorContains(t, err, "invalid datetime range")
}

func TestGetSystemMessagesTooLarge(t *testing.T) {
	line := "cel01: Jul 16 12:30:58 cel01 kernel: " + strings.Repeat("x", 1000)
	lines := make([]string, 60)
	for i := range lines {
		lines[i] = line
	}
	r := newFakeRunner().on("cat", strings.Join(lines, "\n"))
	d := fleetTool(t, r, "get_system_messages")

	_, err := d.Handler(context.Background(), tools.Args{"nodes": "cel01", "start_datetime": "Jul 16 12:00:00", "end_datetime": "Jul 16 13:00:00"}, noSampling(t))
	assert.ErrorContains(t, err, "time range is too large")
}

func TestGetAlertLog(t *testing.T) {
	logs := strings.Join([]string{
		"cel01: <msg time='2026-07-16T18:10:00.000-07:00' org_id='oracle' comp_id='cell'",
		"cel01:  type='UNKNOWN' level='16'>",
		"cel01:  <txt>too early</txt>",
		"cel01: </msg>",
		"cel01: <msg time='2026-07-16T18:20:00.512-07:00' org_id='oracle' comp_id='cell'>",
		"cel01:  <txt>disk failure on CD_03</txt>",
		"cel01: </msg>",
		"cel01: <msg time='2026-07-17T01:25:00.000+00:00' comp_id='cell'>",
		"cel01:  <txt>flash cache resync</txt>",
		"cel01: </msg>",
	}, "\n")
	r := newFakeRunner().on("cat ", logs)
	d := fleetTool(t, r, "get_alert_log")

	args := tools.Args{"nodes": "cel01", "service_type": "cell", "start_datetime": "2026-07-16T18:15:07-07:00", "end_datetime": "2026-07-16T18:30:00-07:00"}
	out, err := d.Handler(context.Background(), args, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "cat /var/log/oracle/diag/asm/cell/`hostname -s`/alert/log.xml", r.commands()[0])
	assert.Contains(t, out, "disk failure on CD_03")
	assert.Contains(t, out, "flash cache resync")
	assert.NotContains(t, out, "too early")
	assert.True(t, strings.HasPrefix(out, "cel01: <msg time='2026-07-16T18:20:00.512-07:00'"))

	args["start_datetime"], args["end_datetime"] = "2026-08-01T00:00:00Z", "2026-08-02T00:00:00Z"
	out, err = d.Handler(context.Background(), args, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "There are no messages from this time range.", out)

	args["start_datetime"] = "Jul 16 12:00:00"
	_, err = d.Handler(context.Background(), args, noSampling(t))
	assert.ErrorContains(t, err, "invalid datetime format")

	args["start_datetime"], args["end_datetime"] = "2026-07-17T00:00:00Z", "2026-07-16T00:00:00Z"
	_, err = d.Handler(context.Background(), args, noSampling(t))
	assert.ErrorContains(t, err, "invalid datetime range")
}

func TestGetAlertLogExascaleAndTooLarge(t *testing.T) {
	block := "db01: <msg time='2026-07-16T18:20:00-07:00'>\ndb01: <txt>" + strings.Repeat("x", 1000) + "</txt>\ndb01: </msg>"
	blocks := make([]string, 60)
	for i := range blocks {
		blocks[i] = block
	}
	r := newFakeRunner().on("cat ", strings.Join(blocks, "\n"))
	d := fleetTool(t, r, "get_alert_log")

	_, err := d.Handler(context.Background(), tools.Args{"nodes": "db01", "service_type": "exascale", "start_datetime": "2026-07-16T00:00:00-07:00", "end_datetime": "2026-07-17T00:00:00-07:00"}, noSampling(t))
	assert.ErrorContains(t, err, "time range is too large")
	assert.Equal(t, "cat /var/log/oracle/diag/EXC/exc/`hostname -s`/alert/log.xml", r.commands()[0])
}

func TestAlterLowPowerModeSchedule(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "alter_low_power_mode_schedule")
	args := tools.Args{"db_nodes": "db01,db02", "start_datetime": "2026-07-17T22:00:00-07:00", "duration": float64(480), "frequency": "daily", "action": "add"}

	_, err := d.Handler(context.Background(), args, noSampling(t))
	require.NoError(t, err)
	args["action"] = "overwrite"
	_, err = d.Handler(context.Background(), args, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`dbmcli -e "alter dbserver lowPowerModeSchedule+=((startTimestamp=\"2026-07-17T22:00:00-07:00\",durationMinutes=480,frequency=daily))"`,
		`dbmcli -e "alter dbserver lowPowerModeSchedule=((startTimestamp=\"2026-07-17T22:00:00-07:00\",durationMinutes=480,frequency=daily))"`,
	}, r.commands())
	assert.Equal(t, []string{"db01", "db02"}, r.calls[0].Nodes)

	args["duration"] = float64(2000)
	_, err = d.Handler(context.Background(), args, noSampling(t))
	assert.ErrorContains(t, err, "between 0 and 1440")

	args["duration"], args["start_datetime"] = float64(60), "tomorrow night; reboot"
	_, err = d.Handler(context.Background(), args, noSampling(t))
	assert.ErrorContains(t, err, "invalid timestamp")

	args["start_datetime"], args["db_nodes"] = "2026-07-17T22:00:00-07:00", "cel01"
	_, err = d.Handler(context.Background(), args, noSampling(t))
	assert.Error(t, err)
	assert.Len(t, r.calls, 2)
}

func TestClearLowPowerModeSchedule(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "clear_low_power_mode_schedule")
	_, err := d.Handler(context.Background(), tools.Args{"db_nodes": "db02"}, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, []string{`dbmcli -e "alter dbserver lowPowerModeSchedule=null"`}, r.commands())
}

func TestAlterLowPowerMode(t *testing.T) {
	r := newFakeRunner()
	d := fleetTool(t, r, "alter_low_power_mode")

	for _, args := range []tools.Args{
		{"db_nodes": "db01", "status": "on", "until": "2026-07-18T06:00:00-07:00"},
		{"db_nodes": "db01", "status": "off"},
		{"db_nodes": "db01", "status": "disable"},
	} {
		_, err := d.Handler(context.Background(), args, noSampling(t))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{
		`dbmcli -e "alter dbserver lowPowerModeUntil=\"2026-07-18T06:00:00-07:00\""`,
		`dbmcli -e "alter dbserver lowPowerModeUntil=\"\""`,
		`dbmcli -e "alter dbserver lowPowerModeUntil=never"`,
	}, r.commands())

	_, err := d.Handler(context.Background(), tools.Args{"db_nodes": "db01", "status": "on"}, noSampling(t))
	assert.ErrorContains(t, err, "missing timestamp")
	_, err = d.Handler(context.Background(), tools.Args{"db_nodes": "db01", "status": "on", "until": "soon"}, noSampling(t))
	assert.ErrorContains(t, err, "invalid timestamp")
	assert.Len(t, r.calls, 3)
}

func TestGetCurrentTime(t *testing.T) {
	d := fleetTool(t, newFakeRunner(), "get_current_time")
	out, err := d.Handler(context.Background(), nil, noSampling(t))
	require.NoError(t, err)
	assert.Equal(t, "2026-07-16T12:40:00Z", out)
}
