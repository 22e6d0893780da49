// Package dashboard is a read-only bubbletea TUI over the agent's live
// state (HostsInfo and ongoing migrations; the pending plan is not
// shown), adapted from the
// teacher's internal/ui: app.go's tick-driven Model/Update/View shape
// and components/{resourcebar,summary}.go's rendering helpers, re-themed
// around Host/VM/Plan instead of Proxmox node/VM rows.
package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/grycap/vmca/internal/resource"
)

var (
	barStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	emptyBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(1, 2)

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
)

// renderResourceBar draws a labeled progress bar for a single utilization
// percentage.
func renderResourceBar(label string, percent float64, width int) string {
	barWidth := width - len(label) - 10
	if barWidth < 10 {
		barWidth = 10
	}
	filled := int((percent / 100.0) * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	style := barStyle
	switch {
	case percent >= 90:
		style = criticalStyle
	case percent >= 75:
		style = warningStyle
	}

	bar := style.Render(strings.Repeat("█", filled)) +
		emptyBarStyle.Render(strings.Repeat("░", empty))
	return fmt.Sprintf("%s [%s] %5.1f%%", label, bar, percent)
}

func hostUsage(h *resource.Host) (cpuPct, memPct float64) {
	if h.CPUTotal > 0 {
		cpuPct = 100.0 * (h.CPUTotal - h.CPUFree) / h.CPUTotal
	}
	if h.MemTotal > 0 {
		memPct = 100.0 * (h.MemTotal - h.MemFree) / h.MemTotal
	}
	return
}

// renderClusterSummary builds a summary box across every host, grounded
// on RenderClusterSummary.
func renderClusterSummary(hi *resource.HostsInfo) string {
	totalHosts := len(hi.Hosts)
	emptyHosts := hi.EmptyCount()
	totalVMs := 0
	var cpuTotal, cpuFree, memTotal, memFree float64
	for _, h := range hi.Hosts {
		totalVMs += len(h.VMs)
		cpuTotal += h.CPUTotal
		cpuFree += h.CPUFree
		memTotal += h.MemTotal
		memFree += h.MemFree
	}
	cpuPct, memPct := 0.0, 0.0
	if cpuTotal > 0 {
		cpuPct = 100.0 * (cpuTotal - cpuFree) / cpuTotal
	}
	if memTotal > 0 {
		memPct = 100.0 * (memTotal - memFree) / memTotal
	}

	content := titleStyle.Render("Cluster Summary") + "\n\n"
	content += labelStyle.Render("Hosts:   ") +
		valueStyle.Render(fmt.Sprintf("%d total / %d empty", totalHosts, emptyHosts)) + "\n"
	content += labelStyle.Render("VMs:     ") +
		valueStyle.Render(fmt.Sprintf("%d", totalVMs)) + "\n"
	content += labelStyle.Render("CPU:     ") +
		valueStyle.Render(fmt.Sprintf("%.1f%% used", cpuPct)) + "\n"
	content += labelStyle.Render("Memory:  ") +
		valueStyle.Render(fmt.Sprintf("%.1f%% used", memPct)) + "\n"
	content += labelStyle.Render("Variance:") +
		valueStyle.Render(fmt.Sprintf(" %.4f", hi.Variance())) + "\n"

	return boxStyle.Width(40).Render(content)
}

// hostTableColumns are the fixed columns of the host table.
func hostTableColumns(width int) []table.Column {
	return []table.Column{
		{Title: "HOST", Width: 20},
		{Title: "VMS", Width: 6},
		{Title: "CPU", Width: width/2 - 16},
		{Title: "MEM", Width: width/2 - 16},
	}
}

// hostTableRows builds one row per host, in the same Keys() order the
// rest of the agent uses for determinism.
func hostTableRows(hi *resource.HostsInfo) []table.Row {
	rows := make([]table.Row, 0, len(hi.Hosts))
	for _, hostname := range hi.Keys() {
		h := hi.Hosts[hostname]
		cpuPct, memPct := hostUsage(h)
		rows = append(rows, table.Row{
			hostname,
			fmt.Sprintf("%d", len(h.VMs)),
			renderResourceBar("cpu", cpuPct, 24),
			renderResourceBar("mem", memPct, 24),
		})
	}
	return rows
}

// newHostTable builds a fresh bubbles/table.Model over hi; the caller
// re-applies the previous cursor to keep it across refreshes.
func newHostTable(hi *resource.HostsInfo, width, height int) table.Model {
	t := table.New(
		table.WithColumns(hostTableColumns(width)),
		table.WithRows(hostTableRows(hi)),
		table.WithFocused(true),
		table.WithHeight(height),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).BorderBottom(true).Bold(false)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).Bold(false)
	t.SetStyles(styles)
	return t
}

// renderVMList lists the VMs hosted on hostname.
func renderVMList(hi *resource.HostsInfo, hostname string) string {
	h := hi.Hosts[hostname]
	if h == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("VMs on %s", hostname)) + "\n")
	for _, vm := range h.VMs {
		fmt.Fprintf(&sb, "  %-10s cpu=%-6.2f mem=%-8.2f state=%s\n", vm.ID, vm.CPU, vm.Memory, vm.State)
	}
	return sb.String()
}

// renderOngoingMigrations lists migrations currently in flight.
func renderOngoingMigrations(migrations map[string]resource.VMMigration) string {
	content := titleStyle.Render("Ongoing Migrations") + "\n\n"
	if len(migrations) == 0 {
		content += labelStyle.Render("none") + "\n"
	}
	for _, m := range migrations {
		content += fmt.Sprintf("  %s\n", m)
	}
	return boxStyle.Width(50).Render(content)
}

// renderHelp lists the dashboard's keyboard shortcuts.
func renderHelp() string {
	content := titleStyle.Render("Keyboard Shortcuts") + "\n\n"
	shortcuts := []struct{ key, desc string }{
		{"↑/↓ or j/k", "Navigate hosts"},
		{"enter", "Toggle VM list for selected host"},
		{"r", "Refresh now"},
		{"?", "Toggle help"},
		{"q / Ctrl+C", "Quit"},
	}
	for _, s := range shortcuts {
		content += lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true).
			Render(fmt.Sprintf("%-15s", s.key))
		content += labelStyle.Render(s.desc) + "\n"
	}
	return boxStyle.Width(40).Render(content)
}
