package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencirc/circ/internal/cli/output"
)

var (
	statusOutput  string
	statusPidFile string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the circd server.

This command checks the server health by calling the health endpoint
and reports whether the server is running and can reach its database.

Examples:
  # Check status (uses default settings)
  circd status

  # Check status with custom API port
  circd status --api-port 9080

  # Output as JSON
  circd status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/circ/circd.pid)")
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running bool   `json:"running" yaml:"running"`
	PID     int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Message string `json:"message" yaml:"message"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Ready   bool   `json:"ready" yaml:"ready"`
}

// healthProbe mirrors the API server's health response shape.
type healthProbe struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := ServerStatus{
		Running: false,
		Message: "Server is not running",
	}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check PID file first
	if pidData, err := os.ReadFile(pidPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(pidData))); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				// Signal 0 probes without touching the process
				if err := process.Signal(syscall.Signal(0)); err == nil {
					status.Running = true
					status.PID = pid
				}
			}
		}
	}

	client := &http.Client{Timeout: 2 * time.Second}

	if probe := probeHealth(client, fmt.Sprintf("http://localhost:%d/health", statusAPIPort)); probe != nil {
		status.Running = true
		status.Healthy = probe.Status == "ok"
	}
	if probe := probeHealth(client, fmt.Sprintf("http://localhost:%d/health/ready", statusAPIPort)); probe != nil {
		status.Ready = probe.Status == "ready"
		if !status.Ready && probe.Error != "" {
			status.Message = fmt.Sprintf("Server is running but not ready: %s", probe.Error)
		}
	}

	switch {
	case status.Running && status.Healthy && status.Ready:
		status.Message = "Server is running and healthy"
	case status.Running && status.Message == "Server is not running":
		status.Message = "Server process is running but the API is not answering"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		pairs := [][2]string{
			{"Running", strconv.FormatBool(status.Running)},
		}
		if status.PID != 0 {
			pairs = append(pairs, [2]string{"PID", strconv.Itoa(status.PID)})
		}
		pairs = append(pairs,
			[2]string{"Healthy", strconv.FormatBool(status.Healthy)},
			[2]string{"Ready", strconv.FormatBool(status.Ready)},
			[2]string{"Message", status.Message},
		)
		return output.SimpleTable(os.Stdout, pairs)
	}
}

// probeHealth calls a health endpoint and decodes the response, returning
// nil when the server is unreachable.
func probeHealth(client *http.Client, url string) *healthProbe {
	resp, err := client.Get(url)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var probe healthProbe
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		return nil
	}
	return &probe
}
