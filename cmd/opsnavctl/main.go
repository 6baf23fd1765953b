// Command opsnavctl is a thin HTTP client for opsnavd: it renders the
// fleet/vm/task state the daemon tracks as pterm tables.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

func main() {
	addr := flag.String("addr", "http://localhost:8000", "opsnavd API base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := &client{base: strings.TrimRight(*addr, "/"), http: &http.Client{Timeout: 30 * time.Second}}

	var err error
	switch args[0] {
	case "hosts":
		err = listHosts(client)
	case "vms":
		err = listVMs(client)
	case "tasks":
		err = listTasks(client)
	case "sync":
		err = triggerSync(client)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("usage: opsnavctl [-addr url] <hosts|vms|tasks|sync>")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func (c *client) post(path string, out interface{}) error {
	resp, err := c.http.Post(c.base+path, "application/json", strings.NewReader("{}"))
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type hostRow struct {
	ID         int64  `json:"id"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Hostname   string `json:"hostname"`
	VMCount    int    `json:"vm_count"`
	VMsRunning int    `json:"vms_running"`
}

func listHosts(c *client) error {
	var hosts []hostRow
	if err := c.get("/virtualization/hosts", &hosts); err != nil {
		return err
	}

	data := [][]string{{"ID", "IP", "Status", "Hostname", "VMs", "Running"}}
	for _, h := range hosts {
		data = append(data, []string{
			fmt.Sprintf("%d", h.ID), h.IP, h.Status, h.Hostname,
			fmt.Sprintf("%d", h.VMCount), fmt.Sprintf("%d", h.VMsRunning),
		})
	}
	return render("Hosts", data)
}

type vmRow struct {
	Name        string `json:"name"`
	HostAddress string `json:"host_ip"`
	Status      string `json:"power_state"`
	IPAddress   string `json:"ip_address"`
	CPUCount    int32  `json:"cpu_count"`
	MemoryMB    int64  `json:"memory_mb"`
}

func listVMs(c *client) error {
	var page struct {
		Items []vmRow `json:"items"`
		Total int     `json:"total"`
	}
	if err := c.get("/virtualization/vms", &page); err != nil {
		return err
	}

	data := [][]string{{"Name", "Host", "Status", "IP", "CPU", "Memory (MB)"}}
	for _, vm := range page.Items {
		data = append(data, []string{
			vm.Name, vm.HostAddress, vm.Status, vm.IPAddress,
			fmt.Sprintf("%d", vm.CPUCount), fmt.Sprintf("%d", vm.MemoryMB),
		})
	}
	return render(fmt.Sprintf("Virtual Machines (%d total)", page.Total), data)
}

type taskRow struct {
	ID       string `json:"id"`
	Kind     string `json:"type"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

func listTasks(c *client) error {
	var page struct {
		Items []taskRow `json:"items"`
		Total int       `json:"total"`
	}
	if err := c.get("/tasks", &page); err != nil {
		return err
	}

	data := [][]string{{"ID", "Type", "Status", "Progress", "Message"}}
	for _, t := range page.Items {
		data = append(data, []string{t.ID, t.Kind, t.Status, fmt.Sprintf("%d%%", t.Progress), t.Message})
	}
	return render("Tasks", data)
}

func triggerSync(c *client) error {
	var result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.post("/virtualization/sync", &result); err != nil {
		return err
	}
	pterm.Success.Printfln(result.Message)
	return nil
}

func render(title string, data [][]string) error {
	pterm.DefaultSection.Println(title)
	if len(data) == 1 {
		pterm.Info.Println("(none)")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithHeaderRowSeparator("-").WithBoxed().WithData(data).Render()
}
