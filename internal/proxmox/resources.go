package proxmox

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Maximum concurrent node status fetches
const maxConcurrentFetches = 32

// storageLogger is a dedicated logger for VMs with missing storage info
// This always writes to vmca-storage.log regardless of debug mode
var storageLogger *log.Logger
var storageLogFile *os.File
var storageLogOnce sync.Once

// initStorageLogger initializes the storage logger (called once)
func initStorageLogger() {
	storageLogOnce.Do(func() {
		var err error
		storageLogFile, err = os.OpenFile("vmca-storage.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			// If we can't open the log file, log to stderr instead
			storageLogger = log.New(os.Stderr, "", 0)
			return
		}
		storageLogger = log.New(storageLogFile, "", log.LstdFlags)
	})
}

// logMissingStorage logs VMs with missing storage info to vmca-storage.log
func logMissingStorage(vmid int, name, node, vmType, status string, maxDisk, disk int64) {
	initStorageLogger()
	if storageLogger != nil {
		storageLogger.Printf("VM with missing storage: VMID=%d Name=%s Node=%s Type=%s Status=%s MaxDisk=%d Disk=%d (source: /cluster/resources API)",
			vmid, name, node, vmType, status, maxDisk, disk)
	}
}

// ProgressCallback is called to report progress during data collection
// stage: current stage name (e.g., "resources", "nodes", "storage")
// current: current item being processed
// total: total items to process
type ProgressCallback func(stage string, current, total int)

// CollectClusterData gathers complete cluster information
func CollectClusterData(client ProxmoxClient) (*Cluster, error) {
	return CollectClusterDataWithProgress(client, nil)
}

// CollectClusterDataWithProgress gathers complete cluster information with progress reporting
func CollectClusterDataWithProgress(client ProxmoxClient, progress ProgressCallback) (*Cluster, error) {
	// Initialize storage logger and write header
	initStorageLogger()
	if storageLogger != nil {
		storageLogger.Printf("=== Starting cluster data collection ===")
	}

	// Report initial stage
	if progress != nil {
		progress("Fetching cluster resources", 0, 1)
	}

	// Get all cluster resources
	resources, err := client.GetClusterResources()
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster resources: %w", err)
	}

	if progress != nil {
		progress("Processing resources", 1, 1)
	}

	// Build cluster structure
	cluster := &Cluster{
		Nodes: []Node{},
	}

	// Map to organize data
	nodeMap := make(map[string]*Node)
	vmList := []VM{}
	missingStorageCount := 0 // Track VMs with missing storage

	// Track storage per node (aggregated from storage type resources)
	nodeStorage := make(map[string]struct {
		maxDisk  int64
		usedDisk int64
	})

	// Process resources
	for _, res := range resources {
		switch res.Type {
		case "node":
			node := Node{
				Name:      res.Node,
				Status:    res.Status,
				CPUCores:  res.MaxCPU,
				CPUUsage:  res.CPU,
				MaxMem:    res.MaxMem,
				UsedMem:   res.Mem,
				MaxDisk:   res.MaxDisk, // This is just rootfs, will be updated
				UsedDisk:  res.Disk,    // This is just rootfs, will be updated
				Uptime:    res.Uptime,
				HostState: -1, // not set until fetchNodeConfigMeta parses hoststate=
				VMs:       []VM{},
			}
			nodeMap[res.Node] = &node

		case "storage":
			// Only count storage that matches kv*storage* pattern
			if !strings.HasPrefix(res.Storage, "kv") || !strings.Contains(res.Storage, "storage") {
				continue
			}
			// Aggregate storage from matching storage resources per node
			storage := nodeStorage[res.Node]
			storage.maxDisk += res.MaxDisk
			storage.usedDisk += res.Disk
			nodeStorage[res.Node] = storage

		case "qemu", "lxc":
			// Skip templates
			if res.Template == 1 {
				continue
			}

			vm := VM{
				VMID:     res.VMID,
				Name:     res.Name,
				Node:     res.Node,
				Status:   res.Status,
				Type:     res.Type,
				CPUCores: res.MaxCPU,
				CPUUsage: res.CPU * 100, // Convert to percentage
				MaxMem:   res.MaxMem,
				UsedMem:  res.Mem,
				MaxDisk:  res.MaxDisk,
				UsedDisk: res.Disk,
				Uptime:   res.Uptime,
			}

			vmList = append(vmList, vm)
			cluster.TotalVMs++
		}
	}

	// Fetch detailed storage info for VMs with MaxDisk=0
	vmsWithMissingStorage := findVMsWithMissingStorage(vmList)
	if len(vmsWithMissingStorage) > 0 {
		if progress != nil {
			progress("Fetching VM storage details", 0, len(vmsWithMissingStorage))
		}
		fetchVMStorageDetails(client, vmList, vmsWithMissingStorage, progress)
		missingStorageCount = countVMsWithMissingStorage(vmList)
	}

	// Log VMs still missing storage info
	for i := range vmList {
		vm := &vmList[i]
		if vm.MaxDisk == 0 && vm.Status == "running" {
			log.Printf("VM %d (%s) on node %s has MaxDisk=0 after detailed fetch",
				vm.VMID, vm.Name, vm.Node)
			logMissingStorage(vm.VMID, vm.Name, vm.Node, vm.Type, vm.Status, vm.MaxDisk, vm.UsedDisk)
		}
	}

	// Fetch config metadata for all VMs (for nomigrate flag, etc.)
	fetchVMConfigMeta(vmList, progress)

	// Fetch config metadata for all nodes (for allowProvisioning flag, OSD detection, etc.)
	fetchNodeConfigMeta(nodeMap, progress)

	// Update node storage with aggregated values from storage resources
	for nodeName, storage := range nodeStorage {
		if node, exists := nodeMap[nodeName]; exists {
			// Use storage resource totals if available (more accurate than rootfs only)
			if storage.maxDisk > 0 {
				node.MaxDisk = storage.maxDisk
				node.UsedDisk = storage.usedDisk
			}
		}
	}

	// Retry logic for nodes with 0 CPU usage but have running VMs
	// This can happen when the API returns stale data
	retryNodes := findNodesNeedingCPURetry(nodeMap, vmList)
	for retry := 0; retry < 2 && len(retryNodes) > 0; retry++ {
		log.Printf("Retrying CPU data for %d nodes (attempt %d/2): %v", len(retryNodes), retry+1, retryNodes)

		// Wait a short time before retry
		time.Sleep(500 * time.Millisecond)

		// Re-fetch cluster resources
		retryResources, err := client.GetClusterResources()
		if err != nil {
			log.Printf("Retry failed: %v", err)
			break
		}

		// Update CPU usage for problematic nodes
		for _, res := range retryResources {
			if res.Type == "node" {
				if node, exists := nodeMap[res.Node]; exists {
					// Only update if this node needed retry and we got a non-zero value
					for _, retryNode := range retryNodes {
						if retryNode == res.Node && res.CPU > 0 {
							node.CPUUsage = res.CPU
							log.Printf("Updated CPU for %s: %.2f%%", res.Node, res.CPU*100)
							break
						}
					}
				}
			}
		}

		// Check if we still have problematic nodes
		retryNodes = findNodesNeedingCPURetry(nodeMap, vmList)
	}

	// Fetch detailed node status for each node in parallel (CPU model, sockets, MHz, PVE version)
	// Use a worker pool with limited concurrency for large clusters
	fetchNodeDetails(client, nodeMap, progress)

	// Assign VMs to their nodes
	for _, vm := range vmList {
		if node, exists := nodeMap[vm.Node]; exists {
			node.VMs = append(node.VMs, vm)
		}
	}

	// Update OSD status for nodes (must be done AFTER VMs are assigned)
	updateNodeOSDStatus(nodeMap)

	// Update recently created VMs status for P-flagged nodes (must be done AFTER VMs are assigned)
	updateNodeOldVMsStatus(nodeMap)

	// Convert map to slice and calculate totals
	for _, node := range nodeMap {
		cluster.Nodes = append(cluster.Nodes, *node)
		cluster.TotalCPUs += node.CPUCores
		cluster.TotalRAM += node.MaxMem
		cluster.TotalStorage += node.MaxDisk
		cluster.UsedStorage += node.UsedDisk

		// Count vCPUs and VM states
		for _, vm := range node.VMs {
			cluster.TotalVCPUs += vm.CPUCores
			if vm.Status == "running" {
				cluster.RunningVMs++
			} else {
				cluster.StoppedVMs++
			}
		}
	}

	// Sort nodes by name for consistent ordering
	sort.Slice(cluster.Nodes, func(i, j int) bool {
		return cluster.Nodes[i].Name < cluster.Nodes[j].Name
	})

	// Log summary of collection
	if storageLogger != nil {
		storageLogger.Printf("=== Collection complete: %d nodes, %d VMs (%d running, %d stopped), %d VMs with missing storage ===",
			len(cluster.Nodes), cluster.TotalVMs, cluster.RunningVMs, cluster.StoppedVMs, missingStorageCount)
	}

	return cluster, nil
}

// parallelFetch runs work over items with concurrency bounded by
// maxConcurrentFetches, calling onDone after each completed item (in
// completion order, not item order) so callers can drive a ProgressCallback.
// Results come back in the same order as items regardless of completion order.
func parallelFetch[T, R any](items []T, onDone func(done int), work func(T) R) []R {
	n := len(items)
	if n == 0 {
		return nil
	}

	numWorkers := maxConcurrentFetches
	if n < numWorkers {
		numWorkers = n
	}

	type slot struct {
		idx    int
		result R
	}
	jobs := make(chan int, n)
	slots := make(chan slot, n)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				slots <- slot{idx: idx, result: work(items[idx])}
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(slots)
	}()

	out := make([]R, n)
	done := 0
	for s := range slots {
		out[s.idx] = s.result
		done++
		if onDone != nil {
			onDone(done)
		}
	}
	return out
}

// nodeStatusResult holds the result of fetching node status
type nodeStatusResult struct {
	nodeName string
	status   *pveNodeStatus
	err      error
}

// findNodesNeedingCPURetry returns nodes that have 0 CPU usage but have running VMs
// This indicates the API returned stale/incorrect data
func findNodesNeedingCPURetry(nodeMap map[string]*Node, vmList []VM) []string {
	// Count running VMs per node
	runningVMsPerNode := make(map[string]int)
	for _, vm := range vmList {
		if vm.Status == "running" {
			runningVMsPerNode[vm.Node]++
		}
	}

	var retryNodes []string
	for nodeName, node := range nodeMap {
		// Node has 0 CPU usage but has running VMs - likely API error
		if node.Status == "online" && node.CPUUsage == 0 && runningVMsPerNode[nodeName] > 0 {
			retryNodes = append(retryNodes, nodeName)
		}
	}
	return retryNodes
}

// fetchNodeDetails fetches detailed status (CPU model/sockets/MHz, load
// average, swap, PVE version) for every online node, via parallelFetch.
func fetchNodeDetails(client ProxmoxClient, nodeMap map[string]*Node, progress ProgressCallback) {
	var onlineNodes []string
	for nodeName, node := range nodeMap {
		if node.Status == "online" {
			onlineNodes = append(onlineNodes, nodeName)
		}
	}
	if len(onlineNodes) == 0 {
		return
	}

	total := len(onlineNodes)
	if progress != nil {
		progress("Fetching node details", 0, total)
	}

	statuses := parallelFetch(onlineNodes, func(done int) {
		if progress != nil {
			progress("Fetching node details", done, total)
		}
	}, func(nodeName string) nodeStatusResult {
		status, err := client.GetNodeStatus(nodeName)
		return nodeStatusResult{nodeName: nodeName, status: status, err: err}
	})

	for _, result := range statuses {
		if result.err != nil || result.status == nil {
			continue
		}
		node, exists := nodeMap[result.nodeName]
		if !exists {
			continue
		}
		node.CPUModel = result.status.CPUInfo.Model
		node.CPUSockets = result.status.CPUInfo.Sockets
		node.CPUMHz = result.status.CPUInfo.MHz
		node.LoadAverage = result.status.LoadAverage
		// CPUCores from /cluster/resources is total logical CPUs; prefer the
		// node-status figure when we have one.
		if result.status.CPUInfo.CPUs > 0 {
			node.CPUCores = result.status.CPUInfo.CPUs
		}
		node.SwapTotal = result.status.Swap.Total
		node.SwapUsed = result.status.Swap.Used
		node.PVEVersion = result.status.PVEVersion
	}
}

// findVMsWithMissingStorage returns indices of VMs that have MaxDisk=0 and are running
func findVMsWithMissingStorage(vmList []VM) []int {
	var indices []int
	for i, vm := range vmList {
		if vm.MaxDisk == 0 && vm.Status == "running" {
			indices = append(indices, i)
		}
	}
	return indices
}

// countVMsWithMissingStorage counts VMs that still have MaxDisk=0
func countVMsWithMissingStorage(vmList []VM) int {
	count := 0
	for _, vm := range vmList {
		if vm.MaxDisk == 0 && vm.Status == "running" {
			count++
		}
	}
	return count
}

// vmStorageResult holds the result of fetching VM storage details
type vmStorageResult struct {
	vmIdx  int
	status *pveVMStatus
	err    error
}

// fetchVMStorageDetails fetches /status/current for VMs whose MaxDisk came
// back 0 from /cluster/resources, falling through to config parsing
// (fetchVMStorageFromConfig) for any that still have nothing afterward.
func fetchVMStorageDetails(client ProxmoxClient, vmList []VM, vmIndices []int, progress ProgressCallback) {
	if len(vmIndices) == 0 {
		return
	}

	total := len(vmIndices)
	results := parallelFetch(vmIndices, func(done int) {
		if progress != nil {
			progress("Fetching VM storage details", done, total)
		}
	}, func(vmIdx int) vmStorageResult {
		vm := vmList[vmIdx]
		status, err := client.GetVMStatus(vm.Node, vm.VMID)
		return vmStorageResult{vmIdx: vmIdx, status: status, err: err}
	})

	var vmsNeedingConfig []int
	for _, result := range results {
		if result.err != nil || result.status == nil {
			continue
		}
		vm := &vmList[result.vmIdx]
		if result.status.MaxDisk > 0 {
			vm.MaxDisk = result.status.MaxDisk
			if storageLogger != nil {
				storageLogger.Printf("VM %d (%s): Got storage from status: MaxDisk=%d",
					vm.VMID, vm.Name, result.status.MaxDisk)
			}
		} else {
			vmsNeedingConfig = append(vmsNeedingConfig, result.vmIdx)
		}
		if result.status.Disk > 0 {
			vm.UsedDisk = result.status.Disk
		}
	}

	if len(vmsNeedingConfig) > 0 {
		fetchVMStorageFromConfig(client, vmList, vmsNeedingConfig, progress)
	}
}

// configResult holds the result of fetching one VM's raw Proxmox config.
type configResult struct {
	vmIdx  int
	config map[string]interface{}
	err    error
}

// fetchVMStorageFromConfig is the last-resort storage lookup: fetch each
// VM's raw config and sum its disk entries' size= values.
func fetchVMStorageFromConfig(client ProxmoxClient, vmList []VM, vmIndices []int, progress ProgressCallback) {
	if len(vmIndices) == 0 {
		return
	}

	total := len(vmIndices)
	if progress != nil {
		progress("Parsing VM configs for storage", 0, total)
	}

	results := parallelFetch(vmIndices, func(done int) {
		if progress != nil {
			progress("Parsing VM configs for storage", done, total)
		}
	}, func(vmIdx int) configResult {
		vm := vmList[vmIdx]
		config, err := client.GetVMConfig(vm.Node, vm.VMID)
		return configResult{vmIdx: vmIdx, config: config, err: err}
	})

	for _, result := range results {
		if result.err != nil || result.config == nil {
			continue
		}
		vm := &vmList[result.vmIdx]
		totalSize := parseDiskSizesFromConfig(result.config)
		if totalSize > 0 {
			vm.MaxDisk = totalSize
			if storageLogger != nil {
				storageLogger.Printf("VM %d (%s): Parsed storage from config: MaxDisk=%d bytes (%.1f GB)",
					vm.VMID, vm.Name, totalSize, float64(totalSize)/(1024*1024*1024))
			}
		}
	}
}

// diskSizeRegex matches size specifications like "100G", "500M", "1T"
var diskSizeRegex = regexp.MustCompile(`size=(\d+)([KMGT]?)`)

// VMConfigResult holds parsed VM config data including metadata and creation time
type VMConfigResult struct {
	Meta          map[string]string
	CreationTime  int64 // Unix timestamp from meta: ctime=
	TotalDiskSize int64 // Total disk size in bytes (sum of all disks)
}

// ParseVMConfigMeta reads the VM config file and parses comment metadata, creation time, and disk sizes.
// The config file path is: /etc/pve/nodes/{node}/qemu-server/{vmid}.conf (or lxc/{vmid}.conf for containers).
// Comment format: #key1=value1,key2=value2,nomigrate=true,...
// Also parses meta: line for ctime (e.g., meta: creation-qemu=9.2.0,ctime=1767793774)
// Also sums up all disk sizes from scsi*, ide*, virtio*, sata*, efidisk*, tpmstate* entries
func ParseVMConfigMeta(node string, vmid int, vmType string) (*VMConfigResult, error) {
	result := &VMConfigResult{
		Meta:          make(map[string]string),
		CreationTime:  0,
		TotalDiskSize: 0,
	}

	// Determine config path based on VM type
	var configPath string
	if vmType == "lxc" {
		configPath = fmt.Sprintf("/etc/pve/nodes/%s/lxc/%d.conf", node, vmid)
	} else {
		configPath = fmt.Sprintf("/etc/pve/nodes/%s/qemu-server/%d.conf", node, vmid)
	}

	// Read the config file
	content, err := os.ReadFile(configPath)
	if err != nil {
		// File might not exist or not readable, return empty result
		return result, nil
	}

	// Disk prefixes to look for
	diskPrefixes := []string{"scsi", "ide", "virtio", "sata", "efidisk", "tpmstate", "rootfs", "mp"}

	// Parse each line
	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)

		// Stop parsing when we hit a snapshot section (e.g., [Backup-2026-01-19-000230])
		// Snapshot sections duplicate disk entries which would multiply our storage count
		if strings.HasPrefix(line, "[") {
			break
		}

		// Look for comment lines that contain key=value pairs (custom metadata)
		if strings.HasPrefix(line, "#") {
			// Remove the # prefix
			commentContent := strings.TrimPrefix(line, "#")
			// Check if this looks like metadata (contains = and ,)
			if strings.Contains(commentContent, "=") {
				// Parse comma-separated key=value pairs
				pairs := strings.Split(commentContent, ",")
				for _, pair := range pairs {
					kv := strings.SplitN(pair, "=", 2)
					if len(kv) == 2 {
						key := strings.TrimSpace(strings.ToLower(kv[0]))
						value := strings.TrimSpace(kv[1])
						result.Meta[key] = value
					}
				}
			}
			continue
		}

		// Look for meta: line which contains ctime (creation time)
		// Format: meta: creation-qemu=9.2.0,ctime=1767793774
		if strings.HasPrefix(line, "meta:") {
			metaContent := strings.TrimPrefix(line, "meta:")
			metaContent = strings.TrimSpace(metaContent)
			// Parse comma-separated key=value pairs
			pairs := strings.Split(metaContent, ",")
			for _, pair := range pairs {
				kv := strings.SplitN(pair, "=", 2)
				if len(kv) == 2 {
					key := strings.TrimSpace(strings.ToLower(kv[0]))
					value := strings.TrimSpace(kv[1])
					if key == "ctime" {
						if ctime, err := strconv.ParseInt(value, 10, 64); err == nil {
							result.CreationTime = ctime
						}
					}
				}
			}
			continue
		}

		// Check for disk entries (scsi0:, ide0:, virtio0:, sata0:, etc.)
		// Format: scsi0: storage:vmid/disk.qcow2,size=100G,other=options
		for _, prefix := range diskPrefixes {
			if strings.HasPrefix(line, prefix) {
				// Extract the part after the colon
				parts := strings.SplitN(line, ":", 2)
				if len(parts) != 2 {
					continue
				}
				diskValue := strings.TrimSpace(parts[1])

				// Skip CD-ROM and empty drives
				if strings.Contains(diskValue, "media=cdrom") || diskValue == "none" {
					continue
				}

				// Extract size from the disk specification using regex
				matches := diskSizeRegex.FindStringSubmatch(diskValue)
				if len(matches) >= 2 {
					sizeNum, err := strconv.ParseInt(matches[1], 10, 64)
					if err != nil {
						continue
					}

					// Apply unit multiplier
					// Note: No unit suffix means bytes (used for small items like tpmstate, efidisk)
					var multiplier int64 = 1 // Default to bytes
					if len(matches) >= 3 && matches[2] != "" {
						switch matches[2] {
						case "K":
							multiplier = 1024
						case "M":
							multiplier = 1024 * 1024
						case "G":
							multiplier = 1024 * 1024 * 1024
						case "T":
							multiplier = 1024 * 1024 * 1024 * 1024
						}
					}

					result.TotalDiskSize += sizeNum * multiplier
				}
				break // Found matching prefix, no need to check others
			}
		}
	}

	return result, nil
}

// vmConfigMetaResult holds the result of parsing VM config metadata
type vmConfigMetaResult struct {
	vmIdx  int
	result *VMConfigResult
	err    error
}

// fetchVMConfigMeta fetches and parses every VM's config comment line
// (nomigrate, hostcpumodel, withvm/without, ctime, disk sizes) in parallel.
func fetchVMConfigMeta(vmList []VM, progress ProgressCallback) {
	if len(vmList) == 0 {
		return
	}

	total := len(vmList)
	if progress != nil {
		progress("Reading VM config metadata", 0, total)
	}

	indices := make([]int, len(vmList))
	for i := range vmList {
		indices[i] = i
	}

	results := parallelFetch(indices, func(done int) {
		if progress != nil {
			progress("Reading VM config metadata", done, total)
		}
	}, func(vmIdx int) vmConfigMetaResult {
		vm := vmList[vmIdx]
		result, err := ParseVMConfigMeta(vm.Node, vm.VMID, vm.Type)
		return vmConfigMetaResult{vmIdx: vmIdx, result: result, err: err}
	})

	for _, result := range results {
		if result.err == nil && result.result != nil {
			vmList[result.vmIdx].ConfigMeta = result.result.Meta
			vmList[result.vmIdx].CreationTime = result.result.CreationTime
			// Set total disk size from config file (more accurate than API)
			if result.result.TotalDiskSize > 0 {
				vmList[result.vmIdx].MaxDisk = result.result.TotalDiskSize
			}
			// Check for nomigrate flag
			if noMigrate, ok := result.result.Meta["nomigrate"]; ok {
				vmList[result.vmIdx].NoMigrate = strings.ToLower(noMigrate) == "true"
				// Log when NoMigrate is detected for debugging
				if vmList[result.vmIdx].NoMigrate {
					log.Printf("VM %d (%s): NoMigrate=true detected (parsed value: '%s')",
						vmList[result.vmIdx].VMID, vmList[result.vmIdx].Name, noMigrate)
				}
			}
			// Parse migration constraints
			// hostcpumodel=6150 -> VM can only run on hosts with "6150" in CPU model
			if hostCPU, ok := result.result.Meta["hostcpumodel"]; ok {
				vmList[result.vmIdx].HostCPUModel = strings.TrimSpace(hostCPU)
			}
			// withvm=il-fs -> VM must be on same host as VM named "il-fs"
			// Can be comma-separated for multiple VMs: withvm=vm1,vm2
			if withVM, ok := result.result.Meta["withvm"]; ok {
				parts := strings.Split(withVM, ",")
				for _, part := range parts {
					name := strings.TrimSpace(part)
					if name != "" {
						vmList[result.vmIdx].WithVM = append(vmList[result.vmIdx].WithVM, name)
					}
				}
			}
			// without=il-kam01 -> VM must NOT be on same host as VM named "il-kam01"
			// Can be comma-separated for multiple VMs: without=vm1,vm2
			if withoutVM, ok := result.result.Meta["without"]; ok {
				parts := strings.Split(withoutVM, ",")
				for _, part := range parts {
					name := strings.TrimSpace(part)
					if name != "" {
						vmList[result.vmIdx].WithoutVM = append(vmList[result.vmIdx].WithoutVM, name)
					}
				}
			}
		}
	}
}

// ParseNodeConfigMeta reads /etc/pve/nodes/{nodeName}/config and parses its
// comment line(s) as comma-separated key=value pairs (hostprovision=true,
// hoststate=3, ...). A missing or unreadable file is not an error: it just
// means the node carries no metadata yet.
func ParseNodeConfigMeta(nodeName string) (map[string]string, error) {
	meta := make(map[string]string)

	configPath := fmt.Sprintf("/etc/pve/nodes/%s/config", nodeName)
	content, err := os.ReadFile(configPath)
	if err != nil {
		return meta, nil
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		commentContent := strings.TrimPrefix(line, "#")
		if !strings.Contains(commentContent, "=") {
			continue
		}
		for _, pair := range strings.Split(commentContent, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				meta[strings.TrimSpace(strings.ToLower(kv[0]))] = strings.TrimSpace(kv[1])
			}
		}
	}

	return meta, nil
}

// CheckNodeHasOSD checks if a node has any VMs with names starting with "osd" and containing "cloudwm.com"
// Examples: osd050.vsan001.il.cloudwm.com, osd001.cloudwm.com
func CheckNodeHasOSD(vms []VM) bool {
	for _, vm := range vms {
		nameLower := strings.ToLower(vm.Name)
		if strings.HasPrefix(nameLower, "osd") && strings.Contains(nameLower, "cloudwm.com") {
			return true
		}
	}
	return false
}

// fetchNodeConfigMeta fetches config metadata for all nodes
// Note: This should be called BEFORE VMs are assigned to nodes
// The OSD check should be done separately after VMs are assigned
func fetchNodeConfigMeta(nodeMap map[string]*Node, progress ProgressCallback) {
	if len(nodeMap) == 0 {
		return
	}

	totalNodes := len(nodeMap)
	current := 0

	if progress != nil {
		progress("Reading node config metadata", 0, totalNodes)
	}

	for nodeName, node := range nodeMap {
		current++
		if progress != nil {
			progress("Reading node config metadata", current, totalNodes)
		}

		// Parse node config
		meta, err := ParseNodeConfigMeta(nodeName)
		if err == nil && meta != nil {
			node.ConfigMeta = meta
			// Check for hostprovision flag
			if hostProv, ok := meta["hostprovision"]; ok {
				node.AllowProvisioning = strings.ToLower(hostProv) == "true"
				log.Printf("Node %s: hostprovision=%s, AllowProvisioning=%v", nodeName, hostProv, node.AllowProvisioning)
			}
			// Check for hoststate (0=maintenance, 3=blocked; see Node.IsMigrationBlocked)
			if hostState, ok := meta["hoststate"]; ok {
				if n, err := strconv.Atoi(strings.TrimSpace(hostState)); err == nil {
					node.HostState = n
					log.Printf("Node %s: hoststate=%d, IsMigrationBlocked=%v", nodeName, n, node.IsMigrationBlocked())
				}
			}
		}
		// Note: OSD check is done in updateNodeOSDStatus after VMs are assigned
	}
}

// updateNodeOSDStatus checks if nodes have OSD VMs
// This must be called AFTER VMs are assigned to nodes
func updateNodeOSDStatus(nodeMap map[string]*Node) {
	for nodeName, node := range nodeMap {
		node.HasOSD = CheckNodeHasOSD(node.VMs)
		if node.HasOSD {
			log.Printf("Node %s: HasOSD=true (found OSD VM among %d VMs)", nodeName, len(node.VMs))
		}
	}
}

// RecentlyCreatedThresholdDays is the number of days to consider a VM as "recently created"
const RecentlyCreatedThresholdDays = 90

// updateNodeOldVMsStatus sets HasOldVMs on every P-flagged (AllowProvisioning)
// node that carries at least one VM created before RecentlyCreatedThresholdDays
// ago, per ctime parsed out of its config by ParseVMConfigMeta. Must run after
// VMs are assigned to nodes.
func updateNodeOldVMsStatus(nodeMap map[string]*Node) {
	thresholdTime := time.Now().Unix() - (RecentlyCreatedThresholdDays * 24 * 60 * 60)

	for nodeName, node := range nodeMap {
		if !node.AllowProvisioning {
			continue
		}

		oldVMs := 0
		for _, vm := range node.VMs {
			if vm.CreationTime > 0 && vm.CreationTime < thresholdTime {
				node.HasOldVMs = true
				oldVMs++
			}
		}
		if oldVMs > 0 {
			log.Printf("Node %s: HasOldVMs=true (%d VM(s) older than %d days)", nodeName, oldVMs, RecentlyCreatedThresholdDays)
		}
	}
}

// parseDiskSizesFromConfig extracts total disk size from VM config
// Looks for scsi*, ide*, virtio*, sata* entries and sums their sizes
func parseDiskSizesFromConfig(config map[string]interface{}) int64 {
	var totalSize int64 = 0

	// Disk prefixes to look for
	diskPrefixes := []string{"scsi", "ide", "virtio", "sata", "efidisk", "tpmstate"}

	for key, value := range config {
		// Check if this is a disk entry
		isDisk := false
		for _, prefix := range diskPrefixes {
			if strings.HasPrefix(key, prefix) {
				isDisk = true
				break
			}
		}

		if !isDisk {
			continue
		}

		// Parse the value string
		valueStr, ok := value.(string)
		if !ok {
			continue
		}

		// Skip CD-ROM and empty drives
		if strings.Contains(valueStr, "media=cdrom") || valueStr == "none" {
			continue
		}

		// Extract size from the disk specification
		matches := diskSizeRegex.FindStringSubmatch(valueStr)
		if len(matches) >= 2 {
			sizeNum, err := strconv.ParseInt(matches[1], 10, 64)
			if err != nil {
				continue
			}

			// Apply unit multiplier
			var multiplier int64 = 1
			if len(matches) >= 3 {
				switch matches[2] {
				case "K":
					multiplier = 1024
				case "M":
					multiplier = 1024 * 1024
				case "G":
					multiplier = 1024 * 1024 * 1024
				case "T":
					multiplier = 1024 * 1024 * 1024 * 1024
				case "":
					// No unit means bytes, but Proxmox usually uses G
					multiplier = 1024 * 1024 * 1024 // Assume GB if no unit
				}
			}

			diskSize := sizeNum * multiplier
			totalSize += diskSize

			if storageLogger != nil {
				storageLogger.Printf("  Disk %s: size=%d%s (%d bytes)", key, sizeNum, matches[2], diskSize)
			}
		}
	}

	return totalSize
}

