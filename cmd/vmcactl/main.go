// Command vmcactl is the operator CLI: vmca {getplan|forcerun|clean <host>
// [-f] [-e]|version|info}. It is a thin HTTP client over vmcad's RPC
// surface (internal/rpcserver), plus an optional "dashboard" subcommand
// wiring internal/dashboard to a live deployment backend.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/grycap/vmca/internal/dashboard"
	"github.com/grycap/vmca/internal/deployment"
	"github.com/grycap/vmca/internal/deployment/sim"
	"github.com/grycap/vmca/internal/monitor"
	"github.com/grycap/vmca/internal/proxmox"
	"github.com/grycap/vmca/internal/resource"
)

var rpcAddr = flag.String("host", "http://localhost:9999", "vmcad RPC base URL")

type result struct {
	OK   bool   `json:"ok"`
	Text string `json:"text"`
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	var (
		res result
		err error
	)

	switch args[0] {
	case "version":
		res, err = call(client, "GET", "/api/v1/version", nil)
	case "forcerun":
		res, err = call(client, "POST", "/api/v1/forcerun", nil)
	case "getplan":
		res, err = call(client, "GET", "/api/v1/getplan", nil)
	case "info":
		res, err = call(client, "GET", "/api/v1/getinfo", nil)
	case "clean":
		res, err = runClean(client, args[1:])
	case "dashboard":
		runDashboard(args[1:])
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "vmcactl:", err)
		os.Exit(1)
	}
	fmt.Println(res.Text)
	if !res.OK {
		os.Exit(1)
	}
}

func runClean(client *http.Client, args []string) (result, error) {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	force := fs.Bool("f", false, "override normally fixed VMs")
	useEmpty := fs.Bool("e", false, "allow currently empty hosts as destinations")
	// Flags may follow the host names (clean <host> [-f] [-e]), so parsing
	// resumes after each positional argument.
	var hosts []string
	for {
		fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		hosts = append(hosts, args[0])
		args = args[1:]
	}
	if len(hosts) == 0 {
		return result{}, fmt.Errorf("clean requires at least one host")
	}

	body, err := json.Marshal(struct {
		Hosts    []string `json:"hosts"`
		Force    bool     `json:"force"`
		UseEmpty bool     `json:"use_empty"`
	}{Hosts: hosts, Force: *force, UseEmpty: *useEmpty})
	if err != nil {
		return result{}, err
	}
	return call(client, "POST", "/api/v1/cleanhosts", body)
}

func call(client *http.Client, method, path string, body []byte) (result, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, *rpcAddr+path, reqBody)
	if err != nil {
		return result{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return result{}, fmt.Errorf("calling vmcad: %w", err)
	}
	defer resp.Body.Close()

	var res result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return result{}, fmt.Errorf("decoding vmcad response: %w", err)
	}
	return res, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vmcactl [-host url] {getplan|forcerun|clean <host>... [-f] [-e]|version|info|dashboard}")
}

// dashboardSource adapts a bare *monitor.Monitor into dashboard.Source.
// vmcactl dashboard polls the deployment backend directly rather than
// through vmcad's RPC surface, since that surface has no endpoint
// returning a structured resource.HostsInfo; ongoing migrations are
// therefore always reported empty here (that state lives in vmcad's
// planner, not the deployment backend this polls).
type dashboardSource struct {
	mon *monitor.Monitor
}

func (s dashboardSource) Snapshot() (*resource.HostsInfo, error) {
	return s.mon.Snapshot()
}

func (s dashboardSource) OngoingMigrations() map[string]resource.VMMigration {
	return nil
}

// runDashboard launches the optional interactive TUI (bubbletea), reading
// directly from a deployment backend rather than vmcad, mirroring
// cmd/vmcad's buildDeployment wiring.
func runDashboard(args []string) {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	backend := fs.String("backend", "sim", "deployment backend: sim|proxmox-api|proxmox-shell")
	apiHost := fs.String("api-host", "https://localhost:8006", "Proxmox API host URL (backend=proxmox-api)")
	apiToken := fs.String("api-token", "", "Proxmox API token, user@realm!tokenid=secret (backend=proxmox-api)")
	validity := fs.Int64("validity", 10, "seconds a cached snapshot stays valid")
	fs.Parse(args)

	if *backend == "proxmox-api" && *apiToken == "" {
		token, err := promptForToken()
		if err != nil {
			fmt.Fprintln(os.Stderr, "vmcactl:", err)
			os.Exit(1)
		}
		*apiToken = token
	}

	dep, err := buildDashboardDeployment(*backend, *apiHost, *apiToken)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vmcactl:", err)
		os.Exit(1)
	}

	mon := monitor.New(dep, *validity, func() int64 { return time.Now().Unix() }, nil)
	model := dashboard.New(dashboardSource{mon: mon}, "vmcactl")

	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "vmcactl:", err)
		os.Exit(1)
	}
}

// promptForToken reads a Proxmox API token from the terminal with echo
// disabled, so the token never lands in shell history or a terminal
// scrollback.
func promptForToken() (string, error) {
	fmt.Fprint(os.Stderr, "Proxmox API token (user@realm!tokenid=secret): ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return string(b), nil
}

func buildDashboardDeployment(backend, apiHost, apiToken string) (deployment.Deployment, error) {
	switch backend {
	case "sim":
		return sim.New(resource.New(), nil), nil
	case "proxmox-api":
		if apiToken == "" {
			return nil, fmt.Errorf("backend=proxmox-api requires -api-token")
		}
		return proxmox.NewDeployment(proxmox.NewClient(apiHost, apiToken)), nil
	case "proxmox-shell":
		return proxmox.NewDeployment(proxmox.NewShellClient()), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
