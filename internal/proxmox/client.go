package proxmox

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a live Proxmox VE cluster over its REST API, either with
// a long-lived API token or a username/password ticket obtained via
// Authenticate.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string
	Username   string
	Password   string
	ticket     string
	csrfToken  string
}

// NewClient builds a token-authenticated Client against baseURL (e.g.
// "https://pve1.example.com:8006"). TLS verification is disabled since
// Proxmox hosts typically carry a self-signed certificate.
func NewClient(baseURL, authToken string) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		AuthToken: authToken,
	}
}

// NewClientWithCredentials builds a Client that authenticates lazily via
// Authenticate instead of carrying a pre-issued API token.
func NewClientWithCredentials(baseURL, username, password string) *Client {
	client := NewClient(baseURL, "")
	client.Username = username
	client.Password = password
	return client
}

// Authenticate obtains a ticket and CSRF token using username/password
func (c *Client) Authenticate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password required for authentication")
	}

	data := url.Values{}
	data.Set("username", c.Username)
	data.Set("password", c.Password)

	resp, err := c.HTTPClient.PostForm(
		c.BaseURL+"/api2/json/access/ticket",
		data,
	)
	if err != nil {
		return fmt.Errorf("authentication request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authentication failed: status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Ticket              string `json:"ticket"`
			CSRFPreventionToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	c.ticket = result.Data.Ticket
	c.csrfToken = result.Data.CSRFPreventionToken

	return nil
}

// authHeaders attaches whichever credential the Client was built with:
// a ticket cookie (plus the CSRF header on non-GET requests) or a bearer
// API token. Neither is set if the Client hasn't authenticated yet.
func (c *Client) authHeaders(req *http.Request, isGet bool) {
	if c.ticket != "" {
		req.Header.Set("Cookie", "PVEAuthCookie="+c.ticket)
		if !isGet {
			req.Header.Set("CSRFPreventionToken", c.csrfToken)
		}
	} else if c.AuthToken != "" {
		req.Header.Set("Authorization", "PVEAPIToken="+c.AuthToken)
	}
}

// doRequest issues an authenticated GET/POST/etc against path and maps
// non-2xx responses to an error.
func (c *Client) doRequest(method, path string) (*http.Response, error) {
	url := c.BaseURL + path

	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authHeaders(req, method == http.MethodGet)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("unauthorized: check credentials or token")
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// parseCPUInfo reads the "cpuinfo" sub-object both the API's
// /nodes/{node}/status and pvesh's equivalent return, tolerating mhz as
// either a JSON number or a string (older Proxmox versions send it as text).
func parseCPUInfo(raw map[string]interface{}) pveCPUInfo {
	var info pveCPUInfo
	if model, ok := raw["model"].(string); ok {
		info.Model = model
	}
	if sockets, ok := raw["sockets"].(float64); ok {
		info.Sockets = int(sockets)
	}
	if cpus, ok := raw["cpus"].(float64); ok {
		info.CPUs = int(cpus)
	}
	if cores, ok := raw["cores"].(float64); ok {
		info.Cores = int(cores)
	}
	if mhz, ok := raw["mhz"].(float64); ok {
		info.MHz = mhz
	} else if mhzStr, ok := raw["mhz"].(string); ok {
		fmt.Sscanf(mhzStr, "%f", &info.MHz)
	}
	return info
}

// decodeEnvelope reads resp's {"data": ...} body and re-marshals Data into
// out, the round-trip every endpoint below needs since encoding/json can't
// target an interface{} field directly at a concrete type.
func decodeEnvelope(resp *http.Response, out interface{}) error {
	var result pveEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	data, err := json.Marshal(result.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

// GetClusterResources retrieves all cluster resources
func (c *Client) GetClusterResources() ([]pveResourceRow, error) {
	resp, err := c.doRequest("GET", "/api2/json/cluster/resources")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var resources []pveResourceRow
	if err := decodeEnvelope(resp, &resources); err != nil {
		return nil, err
	}
	return resources, nil
}

// GetNodeStatus retrieves detailed status for a specific node
func (c *Client) GetNodeStatus(node string) (*pveNodeStatus, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/status", node)
	resp, err := c.doRequest("GET", path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result pveEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Handle the response with flexible parsing
	rawData, ok := result.Data.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected response format")
	}

	status := &pveNodeStatus{}
	if cpuinfo, ok := rawData["cpuinfo"].(map[string]interface{}); ok {
		status.CPUInfo = parseCPUInfo(cpuinfo)
	}
	if uptime, ok := rawData["uptime"].(float64); ok {
		status.Uptime = int64(uptime)
	}

	return status, nil
}

// GetVMStatus retrieves detailed status for a specific VM
func (c *Client) GetVMStatus(node string, vmid int) (*pveVMStatus, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/qemu/%d/status/current", node, vmid)
	resp, err := c.doRequest("GET", path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status pveVMStatus
	if err := decodeEnvelope(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetVMConfig retrieves the raw configuration of a VM
func (c *Client) GetVMConfig(node string, vmid int) (map[string]interface{}, error) {
	path := fmt.Sprintf("/api2/json/nodes/%s/qemu/%d/config", node, vmid)
	resp, err := c.doRequest("GET", path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var config map[string]interface{}
	if err := decodeEnvelope(resp, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// GetNodes retrieves a list of all nodes in the cluster
func (c *Client) GetNodes() ([]string, error) {
	resp, err := c.doRequest("GET", "/api2/json/nodes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var nodes []struct {
		Node string `json:"node"`
	}
	if err := decodeEnvelope(resp, &nodes); err != nil {
		return nil, err
	}

	nodeNames := make([]string, len(nodes))
	for i, n := range nodes {
		nodeNames[i] = n.Node
	}

	return nodeNames, nil
}

// Ping tests the connection to the Proxmox API
func (c *Client) Ping() error {
	resp, err := c.doRequest("GET", "/api2/json/version")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Migrate requests a live migration of vmid from node to target, the HTTP
// API realization of deployment.Deployment.MigrateVM. vmType selects the
// qemu or lxc migrate endpoint.
func (c *Client) Migrate(node string, vmid int, vmType, target string) error {
	path := fmt.Sprintf("/api2/json/nodes/%s/%s/%d/migrate", node, vmType, vmid)
	form := url.Values{}
	form.Set("target", target)
	form.Set("online", "1")

	req, err := http.NewRequest("POST", c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create migrate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authHeaders(req, false)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("migrate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("migrate API error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}
