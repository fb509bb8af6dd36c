package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/refuseworks/binsort/internal/httputil"
	"github.com/refuseworks/binsort/internal/serialmux"
)

// SerialTestRequest represents the request body for testing a serial port
type SerialTestRequest struct {
	PortPath       string `json:"port_path"`
	BaudRate       int    `json:"baud_rate"`
	DataBits       int    `json:"data_bits"`
	StopBits       int    `json:"stop_bits"`
	Parity         string `json:"parity"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SerialTestResponse represents the response from testing a serial port
type SerialTestResponse struct {
	Success        bool                  `json:"success"`
	PortPath       string                `json:"port_path"`
	BaudRate       int                   `json:"baud_rate"`
	TestDurationMS int64                 `json:"test_duration_ms"`
	BytesReceived  int                   `json:"bytes_received,omitempty"`
	SampleData     string                `json:"sample_data,omitempty"`
	RawResponses   []SerialCommandResult `json:"raw_responses,omitempty"`
	StatusSeen     bool                  `json:"status_seen"`
	Error          string                `json:"error,omitempty"`
	Message        string                `json:"message"`
	Suggestion     string                `json:"suggestion,omitempty"`
}

// SerialCommandResult represents a single command/response pair
type SerialCommandResult struct {
	Command  string `json:"command"`
	Response string `json:"response"`
	IsJSON   bool   `json:"is_json"`
}

// SerialDeviceInfo represents information about a discovered serial device
type SerialDeviceInfo struct {
	PortPath     string `json:"port_path"`
	FriendlyName string `json:"friendly_name"`
	LastSeen     int64  `json:"last_seen"`
}

// handleSerialTest handles POST /api/serial/test
func (s *Server) handleSerialTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req SerialTestRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}

	if req.PortPath == "" {
		httputil.BadRequest(w, "Port path is required")
		return
	}
	if !isValidPortPath(req.PortPath) {
		httputil.BadRequest(w, "Invalid port path. Must start with /dev/tty or /dev/serial")
		return
	}

	if req.BaudRate == 0 {
		req.BaudRate = 9600
	}
	if req.DataBits == 0 {
		req.DataBits = 8
	}
	if req.StopBits == 0 {
		req.StopBits = 1
	}
	if req.Parity == "" {
		req.Parity = "N"
	}
	if req.TimeoutSeconds == 0 {
		req.TimeoutSeconds = 5
	}

	// A probe failure is still a completed test, so the response code stays
	// 200 and the outcome travels in the payload.
	httputil.WriteJSONOK(w, testSerialPort(req))
}

// testSerialPort opens the port, asks the firmware to identify itself, and
// reports what came back. STATUS and VERSION are read-only commands; the
// probe deliberately avoids anything that moves the arm.
func testSerialPort(req SerialTestRequest) SerialTestResponse {
	startTime := time.Now()

	// serial.StopBits numbers OnePointFiveStopBits between one and two,
	// so the count cannot be cast directly.
	stopBits := serial.OneStopBit
	if req.StopBits == 2 {
		stopBits = serial.TwoStopBits
	}

	mode := &serial.Mode{
		BaudRate: req.BaudRate,
		DataBits: req.DataBits,
		StopBits: stopBits,
	}

	switch req.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return SerialTestResponse{
			Success:        false,
			PortPath:       req.PortPath,
			BaudRate:       req.BaudRate,
			TestDurationMS: time.Since(startTime).Milliseconds(),
			Error:          fmt.Sprintf("Invalid parity: %s", req.Parity),
			Message:        "Serial port test failed",
			Suggestion:     "Parity must be one of: N (None), E (Even), O (Odd)",
		}
	}

	port, err := serial.Open(req.PortPath, mode)
	if err != nil {
		return SerialTestResponse{
			Success:        false,
			PortPath:       req.PortPath,
			BaudRate:       req.BaudRate,
			TestDurationMS: time.Since(startTime).Milliseconds(),
			Error:          fmt.Sprintf("Failed to open port: %v", err),
			Message:        "Serial port test failed",
			Suggestion:     getSuggestionForError(err),
		}
	}
	defer port.Close()

	if err := port.SetReadTimeout(time.Duration(req.TimeoutSeconds) * time.Second); err != nil {
		log.Printf("Warning: Failed to set read timeout: %v", err)
	}

	var rawResponses []SerialCommandResult
	var totalBytesRead int
	statusSeen := false

	testCommands := []string{"STATUS", "VERSION"}

	for _, cmd := range testCommands {
		if _, err := port.Write([]byte(cmd + "\n")); err != nil {
			log.Printf("Warning: Failed to write command %s: %v", cmd, err)
			continue
		}

		buf := make([]byte, 512)
		n, err := port.Read(buf)
		if err != nil {
			log.Printf("Warning: Failed to read response for %s: %v", cmd, err)
			continue
		}

		if n > 0 {
			totalBytesRead += n
			response := strings.TrimSpace(string(buf[:n]))

			isJSON := json.Valid([]byte(response))
			if cmd == "STATUS" && isJSON {
				statusSeen = true
			}

			rawResponses = append(rawResponses, SerialCommandResult{
				Command:  cmd,
				Response: response,
				IsJSON:   isJSON,
			})
		}
	}

	testDuration := time.Since(startTime).Milliseconds()

	if totalBytesRead == 0 {
		return SerialTestResponse{
			Success:        false,
			PortPath:       req.PortPath,
			BaudRate:       req.BaudRate,
			TestDurationMS: testDuration,
			BytesReceived:  0,
			Error:          "No response from device",
			Message:        "Serial port test failed",
			Suggestion:     "Device may be at a different baud rate (try 9600 or 115200), or the controller firmware is not running. Check the power LED on the board.",
		}
	}

	sampleData := ""
	if len(rawResponses) > 0 {
		sampleData = rawResponses[0].Response
		if len(sampleData) > 100 {
			sampleData = sampleData[:100] + "..."
		}
	}

	message := "Serial port communication successful"
	if !statusSeen {
		message = "Device responded, but no JSON status report was seen; this may not be a sorter controller"
	}

	return SerialTestResponse{
		Success:        true,
		PortPath:       req.PortPath,
		BaudRate:       req.BaudRate,
		TestDurationMS: testDuration,
		BytesReceived:  totalBytesRead,
		SampleData:     sampleData,
		RawResponses:   rawResponses,
		StatusSeen:     statusSeen,
		Message:        message,
	}
}

// getSuggestionForError provides helpful suggestions based on error type
func getSuggestionForError(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "no such file") || strings.Contains(errStr, "not found") {
		return "Check that the controller is connected and appears in /dev/"
	}

	if strings.Contains(errStr, "permission denied") {
		return "Run: sudo usermod -a -G dialout $USER && sudo reboot"
	}

	if strings.Contains(errStr, "resource busy") || strings.Contains(errStr, "device busy") {
		return "Another process may be using the port. Stop the station daemon or other applications using this serial port."
	}

	return "Check device connection and permissions"
}

// handleSerialDevices handles GET /api/serial/devices - List serial devices
// that are not yet covered by a stored configuration
func (s *Server) handleSerialDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	existingConfigs, err := s.db.GetSerialConfigs()
	if err != nil {
		log.Printf("Error fetching existing configs: %v", err)
		httputil.InternalServerError(w, "Failed to fetch existing configurations")
		return
	}

	configuredPorts := make(map[string]bool)
	for _, config := range existingConfigs {
		configuredPorts[config.PortPath] = true
	}

	ports, err := serialmux.ListPorts()
	if err != nil {
		log.Printf("Error enumerating serial ports: %v", err)
		httputil.InternalServerError(w, "Failed to enumerate serial ports")
		return
	}

	devices := []SerialDeviceInfo{}
	now := time.Now().Unix()

	for _, portPath := range ports {
		if configuredPorts[portPath] {
			continue
		}

		devices = append(devices, SerialDeviceInfo{
			PortPath:     portPath,
			FriendlyName: getFriendlyName(portPath),
			LastSeen:     now,
		})
	}

	httputil.WriteJSONOK(w, devices)
}

// getFriendlyName generates a user-friendly name for a serial port
func getFriendlyName(portPath string) string {
	parts := strings.Split(portPath, "/")
	if len(parts) > 0 {
		deviceName := parts[len(parts)-1]

		switch {
		case strings.HasPrefix(deviceName, "ttyUSB"):
			return fmt.Sprintf("USB Serial Adapter (%s)", deviceName)
		case strings.HasPrefix(deviceName, "ttyACM"):
			return fmt.Sprintf("USB CDC Device (%s)", deviceName)
		case strings.HasPrefix(deviceName, "ttyAMA"):
			return fmt.Sprintf("Raspberry Pi Serial (%s)", deviceName)
		default:
			return deviceName
		}
	}

	return portPath
}
